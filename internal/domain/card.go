package domain

// PriceCard is a grain price offer sheet extracted from an image or a text message.
// Field names on the wire follow the front-end contract.
type PriceCard struct {
	ID            string    `json:"id,omitempty"`
	Title         string    `json:"titulo"`
	ReferenceDate string    `json:"data"`
	USDRate       *float64  `json:"cotacaoDolar,omitempty"`
	FoxUserID     string    `json:"idFoxUser,omitempty"`
	Products      []Product `json:"produtos"`
}

// Product groups the price entries quoted for a single grain and delivery modality.
type Product struct {
	Name         string       `json:"nome"`
	ProductID    string       `json:"idProduto,omitempty"`
	Modality     string       `json:"modalidade,omitempty"`
	Location     string       `json:"local,omitempty"`
	FoxAddressID string       `json:"idFoxAddresses,omitempty"`
	PriceEntries []PriceEntry `json:"precos"`
}

// PriceEntry is one quoted price for a shipment window.
type PriceEntry struct {
	Shipment    string   `json:"embarque"`
	PaymentDate string   `json:"pagamento,omitempty"`
	PriceBRL    *float64 `json:"precoBrl,omitempty"`
	PriceUSD    *float64 `json:"precoUsd,omitempty"`
	Quantity    *int     `json:"quantidade,omitempty"`
}

// PriceEntryCount returns the number of price entries across all products.
func (c *PriceCard) PriceEntryCount() int {
	n := 0
	for _, p := range c.Products {
		n += len(p.PriceEntries)
	}
	return n
}
