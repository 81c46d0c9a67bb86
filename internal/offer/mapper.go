// Package offer publishes confirmed price cards as buy offers on the commodities marketplace.
package offer

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
)

// Grain codes understood by the marketplace.
const (
	GrainCorn    = 1
	GrainSoybean = 2
	GrainSorghum = 3
)

const (
	DefaultAmount        = 2000
	DefaultExpiryDays    = 15
	DefaultPaymentDays   = "30"
	SpotDeliveryDeadline = "spot"
	dateLayout           = "2006-01-02"
)

// Coords is a latitude/longitude pair.
type Coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Sign identifies where an offer was signed from.
type Sign struct {
	Coords Coords `json:"coords"`
	IP     string `json:"ip"`
}

// Offer is the body of POST /api/offers/simpleoffers.
type Offer struct {
	Grain             int     `json:"grain"`
	Amount            int     `json:"amount"`
	BagPrice          float64 `json:"bagPrice"`
	IsBuying          bool    `json:"isBuying"`
	Address           string  `json:"address"`
	CreatedBy         string  `json:"createdBy"`
	DeliveryDeadline  string  `json:"deliveryDeadline"`
	ExpiresIn         string  `json:"expiresIn"`
	StateRegistration string  `json:"stateRegistration"`
	CommissionValue   float64 `json:"commissionValue"`
	IsGanhaGanha      bool    `json:"isGanhaGanha"`
	IsFob             bool    `json:"isFob"`
	IsFobCity         bool    `json:"isFobCity"`
	IsFobWarehouse    bool    `json:"isFobWarehouse"`
	PaymentDeadLine   string  `json:"paymentDeadLine"`
	FoxFee            float64 `json:"foxFee"`
	FinanceTax        float64 `json:"financeTax"`
	UserID            string  `json:"userId"`
	GrainID           string  `json:"grainId"`
	Simulated         bool    `json:"simulated"`
	Sign              Sign    `json:"sign"`
}

// Defaults are the marketplace constants stamped on every offer.
type Defaults struct {
	Amount            int
	ExpiryDays        int
	StateRegistration string
	CommissionValue   float64
	FoxFee            float64
	FinanceTax        float64
	Sign              Sign
}

// Mapper converts card price entries into offers.
type Mapper struct {
	defaults Defaults
	now      func() time.Time
}

func NewMapper(defaults Defaults) *Mapper {
	if defaults.Amount <= 0 {
		defaults.Amount = DefaultAmount
	}
	if defaults.ExpiryDays <= 0 {
		defaults.ExpiryDays = DefaultExpiryDays
	}
	return &Mapper{defaults: defaults, now: time.Now}
}

// GrainCode maps a product name to its marketplace grain code; unknown names map to corn.
func GrainCode(productName string) int {
	name := strings.ToUpper(productName)
	switch {
	case strings.Contains(name, "MILHO"):
		return GrainCorn
	case strings.Contains(name, "SOJA"):
		return GrainSoybean
	case strings.Contains(name, "SORGO"):
		return GrainSorghum
	}
	return GrainCorn
}

// PaymentDays returns the whole days between shipment and payment, rounded up.
// Unparseable dates or a payment before shipment give the default of 30.
func PaymentDays(shipment, payment string) string {
	ship, ok := parseDate(shipment)
	if !ok {
		return DefaultPaymentDays
	}
	pay, ok := parseDate(payment)
	if !ok {
		return DefaultPaymentDays
	}
	days := int(math.Ceil(pay.Sub(ship).Hours() / 24))
	if days < 0 {
		return DefaultPaymentDays
	}
	return strconv.Itoa(days)
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if i := strings.IndexByte(s, 'T'); i > 0 {
		s = s[:i]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Map builds the offer for one price entry of product on card.
func (m *Mapper) Map(card *domain.PriceCard, product domain.Product, entry domain.PriceEntry) Offer {
	grain := GrainCode(product.Name)

	amount := m.defaults.Amount
	if entry.Quantity != nil && *entry.Quantity > 0 {
		amount = *entry.Quantity
	}

	var bagPrice float64
	if entry.PriceBRL != nil {
		bagPrice = *entry.PriceBRL
	}

	deliveryDeadline := strings.TrimSpace(entry.Shipment)
	if deliveryDeadline == "" {
		deliveryDeadline = SpotDeliveryDeadline
	}

	grainID := product.ProductID
	if grainID == "" {
		grainID = strconv.Itoa(grain)
	}

	isFob := strings.EqualFold(strings.TrimSpace(product.Modality), "FOB")

	return Offer{
		Grain:             grain,
		Amount:            amount,
		BagPrice:          bagPrice,
		IsBuying:          true,
		Address:           product.FoxAddressID,
		CreatedBy:         card.FoxUserID,
		DeliveryDeadline:  deliveryDeadline,
		ExpiresIn:         m.now().UTC().AddDate(0, 0, m.defaults.ExpiryDays).Format("2006-01-02T15:04:05.000Z"),
		StateRegistration: m.defaults.StateRegistration,
		CommissionValue:   m.defaults.CommissionValue,
		IsFob:             isFob,
		IsFobCity:         isFob,
		PaymentDeadLine:   PaymentDays(entry.Shipment, entry.PaymentDate),
		FoxFee:            m.defaults.FoxFee,
		FinanceTax:        m.defaults.FinanceTax,
		UserID:            card.FoxUserID,
		GrainID:           grainID,
		Sign:              m.defaults.Sign,
	}
}
