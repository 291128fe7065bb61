package synthetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecords(t *testing.T) {
	docs := Records(1000, 0.3, 1)

	assert.Len(t, docs, 1000)
	positives := 0
	for _, doc := range docs {
		positives += int(doc["Response"].(float64))
		assert.Contains(t, []string{"Male", "Female"}, doc["Gender"])
		assert.Contains(t, []string{"< 1 Year", "1-2 Year", "> 2 Years"}, doc["Vehicle_Age"])
	}
	assert.Equal(t, 300, positives)

	assert.Equal(t, docs, Records(1000, 0.3, 1))
	assert.NotEqual(t, docs, Records(1000, 0.3, 2))
}
