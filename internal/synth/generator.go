// Package synth generates a labeled synthetic transaction set with
// injected fraud patterns, used for end-to-end pipeline validation and
// demo seeding.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Config controls the generated dataset.
type Config struct {
	Users        int
	Transactions int
	FraudRate    float64
	Seed         int64
	Start        time.Time
	End          time.Time
}

// DefaultConfig mirrors the demo dataset shape.
func DefaultConfig() Config {
	return Config{
		Users:        200,
		Transactions: 10000,
		FraudRate:    0.05,
		Seed:         42,
		Start:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Injected fraud patterns.
const (
	FraudHighAmount      = "high_amount"
	FraudUnusualTime     = "unusual_time"
	FraudRapidSuccession = "rapid_succession"
	FraudForeignLocation = "foreign_location"
	FraudRoundAmount     = "round_amount"
)

var fraudTypes = []string{
	FraudHighAmount,
	FraudUnusualTime,
	FraudRapidSuccession,
	FraudForeignLocation,
	FraudRoundAmount,
}

// categoryPattern is the per-category spending distribution in USD.
type categoryPattern struct {
	name string
	mean float64
	std  float64
}

var categories = []categoryPattern{
	{"Groceries", 150, 50},
	{"Utilities", 120, 30},
	{"Rent", 1200, 200},
	{"Healthcare", 200, 100},
	{"Transportation", 100, 40},
	{"Dining", 80, 30},
	{"Entertainment", 100, 50},
	{"Shopping", 200, 100},
	{"Travel", 500, 300},
}

var merchants = map[string][]string{
	"Groceries":      {"Walmart", "Whole Foods", "Trader Joes", "Safeway"},
	"Utilities":      {"Electric Co", "Water Dept", "Internet Provider"},
	"Rent":           {"Property Management", "Housing Complex"},
	"Healthcare":     {"City Hospital", "Health Clinic", "Pharmacy"},
	"Transportation": {"Gas Station", "Uber", "Public Transit"},
	"Dining":         {"Restaurant A", "Cafe B", "Fast Food C"},
	"Entertainment":  {"Cinema", "Concert Hall", "Streaming Service"},
	"Shopping":       {"Amazon", "Target", "Best Buy"},
	"Travel":         {"Airline", "Hotel", "Travel Agency"},
}

var currencies = []string{"USD", "IDR", "CNY"}

var exchangeRates = map[string]float64{
	"USD": 1.0,
	"CNY": 7.2,
	"IDR": 15800.0,
}

var paymentMethods = []string{"Credit Card", "Debit Card", "Digital Wallet", "Bank Transfer"}

// hourWeights shape the intraday transaction distribution: lunch and
// evening peaks, quiet nights.
var hourWeights = []float64{
	2, 2, 2, 2, 2, 2, // 00-05
	8, 8, 8, // 06-08
	20, 20, 20, // 09-11
	25, 25, // 12-13
	20, 20, 20, 20, // 14-17
	22, 22, 22, // 18-20
	3, 3, 3, // 21-23
}

// Generate produces a seeded synthetic transaction set. Same config,
// same dataset.
func Generate(cfg Config) []*domain.Transaction {
	rng := rand.New(rand.NewSource(cfg.Seed))

	users := make([]string, cfg.Users)
	preferred := make(map[string]string, cfg.Users)
	for i := range users {
		users[i] = fmt.Sprintf("U%05d", i+1)
		preferred[users[i]] = currencies[rng.Intn(len(currencies))]
	}

	days := int(cfg.End.Sub(cfg.Start).Hours() / 24)
	if days < 1 {
		days = 1
	}

	txs := make([]*domain.Transaction, 0, cfg.Transactions)
	for i := 0; i < cfg.Transactions; i++ {
		user := users[rng.Intn(len(users))]
		cat := categories[rng.Intn(len(categories))]

		date := cfg.Start.AddDate(0, 0, rng.Intn(days)).Add(
			time.Duration(weightedHour(rng))*time.Hour +
				time.Duration(rng.Intn(60))*time.Minute +
				time.Duration(rng.Intn(60))*time.Second)

		amountUSD := math.Abs(rng.NormFloat64()*cat.std + cat.mean)

		currency := preferred[user]
		if rng.Float64() >= 0.7 {
			currency = currencies[rng.Intn(len(currencies))]
		}

		isFraud := rng.Float64() < cfg.FraudRate
		var fraudType string
		if isFraud {
			fraudType = fraudTypes[rng.Intn(len(fraudTypes))]
			switch fraudType {
			case FraudHighAmount:
				amountUSD *= 5 + rng.Float64()*15
			case FraudUnusualTime:
				date = time.Date(date.Year(), date.Month(), date.Day(),
					2+rng.Intn(3), date.Minute(), date.Second(), 0, time.UTC)
			case FraudRoundAmount:
				amountUSD = math.Round(amountUSD/100) * 100
				if amountUSD == 0 {
					amountUSD = 100
				}
			case FraudForeignLocation:
				for currency == preferred[user] {
					currency = currencies[rng.Intn(len(currencies))]
				}
			case FraudRapidSuccession:
				// Burst: a few extra transactions seconds apart.
				burst := 2 + rng.Intn(3)
				for b := 0; b < burst && len(txs) < cfg.Transactions-1; b++ {
					clone := buildTx(len(txs), user, cat, amountUSD, currency,
						date.Add(time.Duration(30+rng.Intn(120))*time.Second), true, fraudType, rng)
					txs = append(txs, clone)
				}
			}
		}

		txs = append(txs, buildTx(len(txs), user, cat, amountUSD, currency, date, isFraud, fraudType, rng))
	}
	return txs
}

func buildTx(i int, user string, cat categoryPattern, amountUSD float64, currency string,
	date time.Time, isFraud bool, fraudType string, rng *rand.Rand) *domain.Transaction {

	amountUSD = math.Round(amountUSD*100) / 100
	if amountUSD <= 0 {
		amountUSD = 0.01
	}
	merchant := merchants[cat.name][rng.Intn(len(merchants[cat.name]))]

	tx := &domain.Transaction{
		ID:            fmt.Sprintf("T%08d", i+1),
		UserID:        user,
		Amount:        math.Round(amountUSD*exchangeRates[currency]*100) / 100,
		AmountUSD:     amountUSD,
		Currency:      currency,
		Category:      cat.name,
		Merchant:      merchant,
		PaymentMethod: paymentMethods[rng.Intn(len(paymentMethods))],
		Description:   fmt.Sprintf("%s purchase at %s", cat.name, merchant),
		Date:          date,
		IsFraud:       &isFraud,
	}
	if isFraud {
		tx.FraudType = fraudType
	}
	return tx
}

func weightedHour(rng *rand.Rand) int {
	var total float64
	for _, w := range hourWeights {
		total += w
	}
	pick := rng.Float64() * total
	for h, w := range hourWeights {
		pick -= w
		if pick < 0 {
			return h
		}
	}
	return 23
}
