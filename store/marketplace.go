package store

import (
	"database/sql"
	"fmt"

	agentrt "github.com/tonagent/runtime"
)

// MarketplaceDB implements MarketplaceStore. Purchase performs the copy
// semantics of §9 "Marketplace copy semantics": the buyer gets a brand-new
// Agent row via copyAgent, never a reference to the seller's.
type MarketplaceDB struct {
	db *sql.DB
}

var _ MarketplaceStore = (*MarketplaceDB)(nil)

func (m *MarketplaceDB) Publish(l MarketplaceListing) (MarketplaceListing, error) {
	res, err := m.db.Exec(
		`INSERT INTO marketplace_listings (seller_owner_id, source_agent_id, title, description, price_amount, price_currency)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.SellerOwnerID, l.SourceAgentID, l.Title, l.Description, l.PriceAmount, l.PriceCurrency,
	)
	if err != nil {
		return MarketplaceListing{}, fmt.Errorf("publish listing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return MarketplaceListing{}, fmt.Errorf("publish listing: %w", err)
	}
	l.ID = id
	return l, nil
}

func (m *MarketplaceDB) ListListings() ([]MarketplaceListing, error) {
	rows, err := m.db.Query(
		`SELECT id, seller_owner_id, source_agent_id, title, description, price_amount, price_currency, published_at
		 FROM marketplace_listings ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var out []MarketplaceListing
	for rows.Next() {
		var l MarketplaceListing
		if err := rows.Scan(&l.ID, &l.SellerOwnerID, &l.SourceAgentID, &l.Title, &l.Description, &l.PriceAmount, &l.PriceCurrency, &l.PublishedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Purchase is idempotent per (listingID, buyerOwnerID): if a purchase row
// already exists, it is returned unchanged and copyAgent is never invoked a
// second time — the buyer never ends up with two copies of the same listing.
func (m *MarketplaceDB) Purchase(listingID, buyerOwnerID int64, copyAgent func(source agentrt.Agent) (agentrt.Agent, error)) (MarketplacePurchase, error) {
	var existing MarketplacePurchase
	err := m.db.QueryRow(
		`SELECT id, listing_id, buyer_owner_id, new_agent_id, purchased_at, price_paid
		 FROM marketplace_purchases WHERE listing_id = ? AND buyer_owner_id = ?`,
		listingID, buyerOwnerID,
	).Scan(&existing.ID, &existing.ListingID, &existing.BuyerOwnerID, &existing.NewAgentID, &existing.PurchasedAt, &existing.PricePaid)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return MarketplacePurchase{}, fmt.Errorf("check existing purchase: %w", err)
	}

	var listing MarketplaceListing
	err = m.db.QueryRow(
		`SELECT id, seller_owner_id, source_agent_id, title, description, price_amount, price_currency, published_at
		 FROM marketplace_listings WHERE id = ?`, listingID,
	).Scan(&listing.ID, &listing.SellerOwnerID, &listing.SourceAgentID, &listing.Title, &listing.Description, &listing.PriceAmount, &listing.PriceCurrency, &listing.PublishedAt)
	if err == sql.ErrNoRows {
		return MarketplacePurchase{}, agentrt.WrapOwnership(agentrt.ErrNotFound, "no such listing")
	}
	if err != nil {
		return MarketplacePurchase{}, fmt.Errorf("load listing: %w", err)
	}

	source, err := (&ArtifactDB{db: m.db}).GetAny(listing.SourceAgentID)
	if err != nil {
		return MarketplacePurchase{}, fmt.Errorf("load source agent: %w", err)
	}

	copied, err := copyAgent(source)
	if err != nil {
		return MarketplacePurchase{}, fmt.Errorf("copy agent for buyer: %w", err)
	}

	res, err := m.db.Exec(
		`INSERT INTO marketplace_purchases (listing_id, buyer_owner_id, new_agent_id, price_paid) VALUES (?, ?, ?, ?)`,
		listingID, buyerOwnerID, copied.ID, listing.PriceAmount,
	)
	if err != nil {
		return MarketplacePurchase{}, fmt.Errorf("record purchase: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return MarketplacePurchase{}, fmt.Errorf("record purchase: %w", err)
	}

	return MarketplacePurchase{
		ID:           id,
		ListingID:    listingID,
		BuyerOwnerID: buyerOwnerID,
		NewAgentID:   copied.ID,
		PricePaid:    listing.PriceAmount,
	}, nil
}
