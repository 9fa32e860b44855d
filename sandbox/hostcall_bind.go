package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/hostcall"
)

// bindHostCalls installs the Host-Call Surface into vm's global scope as the
// artifact's only way to reach state, the network, or its owner. Nothing
// else is registered — no fs, no process, no require — the Static Safety
// Gate assumes this boundary holds. It also binds setTimeout/setInterval and
// returns the timerSet backing them, which the caller drains and force-clears
// (SPEC_FULL §4.4).
func bindHostCalls(ctx context.Context, vm *goja.Runtime, surface *hostcall.Surface, logs *[]agentrt.LogLine) *timerSet {
	console := vm.NewObject()
	logFn := func(level string) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			msg := formatArgs(call.Arguments)
			*logs = append(*logs, agentrt.LogLine{Level: level, Message: msg, Timestamp: time.Now()})
			return goja.Undefined()
		}
	}
	console.Set("log", logFn("info"))
	console.Set("warn", logFn("warn"))
	console.Set("error", logFn("error"))
	vm.Set("console", console)

	vm.Set("notify", func(call goja.FunctionCall) goja.Value {
		message := call.Argument(0).String()
		if err := surface.Notify(ctx, message); err != nil {
			*logs = append(*logs, agentrt.LogLine{Level: "warn", Message: "notify failed: " + err.Error(), Timestamp: time.Now()})
		}
		return goja.Undefined()
	})

	vm.Set("get_state", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		value, found, err := surface.GetState(key)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		if !found {
			return goja.Null()
		}
		return vm.ToValue(value)
	})

	vm.Set("set_state", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		value := call.Argument(1).String()
		if err := surface.SetState(key, value); err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return goja.Undefined()
	})

	vm.Set("get_secret", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		value, found, err := surface.GetSecret(name)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		if !found {
			return goja.Null()
		}
		return vm.ToValue(value)
	})

	vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		req := parseFetchArgs(vm, call)
		resp, err := surface.Fetch(ctx, req)
		if err != nil {
			*logs = append(*logs, agentrt.LogLine{Level: "warn", Message: "fetch failed: " + err.Error(), Timestamp: time.Now()})
			return vm.ToValue(map[string]any{"status": 0, "body": "", "error": err.Error()})
		}
		return vm.ToValue(map[string]any{
			"status": resp.StatusCode,
			"body":   resp.Body,
		})
	})

	vm.Set("get_ton_balance", func(call goja.FunctionCall) goja.Value {
		address := call.Argument(0).String()
		balance, err := surface.GetTONBalance(ctx, "", address)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(balance)
	})

	vm.Set("call_plugin", func(call goja.FunctionCall) goja.Value {
		pluginID := call.Argument(0).String()
		payload := call.Argument(1).String()
		resp, err := surface.CallPlugin(ctx, pluginID, payload)
		if err != nil {
			*logs = append(*logs, agentrt.LogLine{Level: "warn", Message: "call_plugin failed: " + err.Error(), Timestamp: time.Now()})
			return vm.ToValue(map[string]any{"status": 0, "body": "", "error": err.Error()})
		}
		return vm.ToValue(map[string]any{
			"status": resp.StatusCode,
			"body":   resp.Body,
		})
	})

	timers := newTimerSet()
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.ToValue("setTimeout: first argument must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		id := timers.add(fn, delay, 0)
		return vm.ToValue(id)
	})
	vm.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		timers.cancel(call.Argument(0).ToInteger())
		return goja.Undefined()
	})
	vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.ToValue("setInterval: first argument must be a function"))
		}
		interval := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		id := timers.add(fn, interval, interval)
		return vm.ToValue(id)
	})
	vm.Set("clearInterval", func(call goja.FunctionCall) goja.Value {
		timers.cancel(call.Argument(0).ToInteger())
		return goja.Undefined()
	})

	return timers
}

func formatArgs(args []goja.Value) string {
	parts := make([]any, len(args))
	for i, a := range args {
		parts[i] = a.Export()
	}
	return fmt.Sprintln(parts...)
}

func parseFetchArgs(vm *goja.Runtime, call goja.FunctionCall) hostcall.FetchRequest {
	req := hostcall.FetchRequest{Method: "GET", URL: call.Argument(0).String()}
	opts := call.Argument(1)
	if goja.IsUndefined(opts) || goja.IsNull(opts) {
		return req
	}
	obj := opts.ToObject(vm)
	if method := obj.Get("method"); method != nil && !goja.IsUndefined(method) {
		req.Method = method.String()
	}
	if body := obj.Get("body"); body != nil && !goja.IsUndefined(body) {
		req.Body = body.String()
	}
	if headers := obj.Get("headers"); headers != nil && !goja.IsUndefined(headers) {
		headersObj := headers.ToObject(vm)
		req.Headers = make(map[string]string)
		for _, key := range headersObj.Keys() {
			req.Headers[key] = headersObj.Get(key).String()
		}
	}
	return req
}
