// Package synthetic generates customer records shaped like the production
// collection, with a controllable share of positive responses. The features
// are correlated with the response so models trained on them are useful.
package synthetic

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/willbeason/insurance-eligibility/pkg/docstore"
)

type weighted struct {
	value  string
	weight float64
}

func pick(rng *rand.Rand, choices []weighted) string {
	r := rng.Float64()
	for _, c := range choices {
		if r < c.weight {
			return c.value
		}
		r -= c.weight
	}
	return choices[len(choices)-1].value
}

func bernoulli(rng *rand.Rand, p float64) float64 {
	if rng.Float64() < p {
		return 1
	}
	return 0
}

var (
	vehicleAgePositive = []weighted{{"1-2 Year", 0.6}, {"> 2 Years", 0.3}, {"< 1 Year", 0.1}}
	vehicleAgeNegative = []weighted{{"< 1 Year", 0.55}, {"1-2 Year", 0.4}, {"> 2 Years", 0.05}}
	channelsPositive   = []float64{26, 124, 156}
	channelsNegative   = []float64{152, 160, 26}
)

// Records returns n documents of which round(n * positiveRate) have
// Response 1. Equal seeds give equal documents.
func Records(n int, positiveRate float64, seed int64) []docstore.Document {
	rng := rand.New(rand.NewSource(seed))

	positives := int(math.Round(float64(n) * positiveRate))
	labels := make([]float64, n)
	for i := 0; i < positives; i++ {
		labels[i] = 1
	}
	rng.Shuffle(n, func(i, j int) {
		labels[i], labels[j] = labels[j], labels[i]
	})

	docs := make([]docstore.Document, n)
	for i, label := range labels {
		positive := label == 1

		gender := "Female"
		if bernoulli(rng, 0.54) == 1 {
			gender = "Male"
		}

		var age, previouslyInsured, damageRate, channel float64
		var vehicleAge string
		if positive {
			age = float64(30 + rng.Intn(30))
			previouslyInsured = bernoulli(rng, 0.05)
			damageRate = 0.95
			vehicleAge = pick(rng, vehicleAgePositive)
			channel = channelsPositive[rng.Intn(len(channelsPositive))]
		} else {
			age = float64(20 + rng.Intn(45))
			previouslyInsured = bernoulli(rng, 0.6)
			damageRate = 0.3
			vehicleAge = pick(rng, vehicleAgeNegative)
			channel = channelsNegative[rng.Intn(len(channelsNegative))]
		}

		damage := "No"
		if bernoulli(rng, damageRate) == 1 {
			damage = "Yes"
		}

		docs[i] = docstore.Document{
			"_id":                  fmt.Sprintf("%024x", i+1),
			"id":                   float64(i + 1),
			"Gender":               gender,
			"Age":                  age,
			"Driving_License":      bernoulli(rng, 0.98),
			"Region_Code":          float64(rng.Intn(53)),
			"Previously_Insured":   previouslyInsured,
			"Vehicle_Age":          vehicleAge,
			"Vehicle_Damage":       damage,
			"Annual_Premium":       math.Round(2630 + rng.Float64()*60000),
			"Policy_Sales_Channel": channel,
			"Vintage":              float64(10 + rng.Intn(290)),
			"Response":             label,
		}
	}
	return docs
}
