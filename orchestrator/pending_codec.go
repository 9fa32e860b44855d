package orchestrator

import "encoding/json"

// encodePending/decodePending serialize a Pending's Data map for the
// waiting_for_input payload column, which store.SessionStore treats as an
// opaque string (§4.10).
func encodePending(p Pending) (string, error) {
	b, err := json.Marshal(p.Data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodePending(kind PendingKind, payload string) (Pending, error) {
	data := make(map[string]string)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			return Pending{}, err
		}
	}
	return Pending{Kind: kind, Data: data}, nil
}
