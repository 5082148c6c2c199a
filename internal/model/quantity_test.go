package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity_Valid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Quantity
	}{
		{"integer", "10", 1000},
		{"zero", "0", 0},
		{"one decimal", "10.5", 1050},
		{"two decimals", "10.25", 1025},
		{"fraction only units", "0.07", 7},
		{"trailing zero fraction", "3.10", 310},
		{"large", "92233720368547758.07", 9223372036854775807},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuantity(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, q)
		})
	}
}

func TestParseQuantity_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"dot only", "."},
		{"trailing dot", "10."},
		{"leading dot", ".5"},
		{"three decimals", "1.253"},
		{"negative", "-1"},
		{"exponent", "1e2"},
		{"spaces", " 1"},
		{"letters", "ten"},
		{"two dots", "1.2.3"},
		{"overflow", "92233720368547758.08"},
		{"overflow units", "99999999999999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuantity(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestQuantity_String(t *testing.T) {
	tests := []struct {
		name     string
		q        Quantity
		expected string
	}{
		{"zero", 0, "0.00"},
		{"whole", 1000, "10.00"},
		{"cents", 7, "0.07"},
		{"mixed", 1025, "10.25"},
		{"negative kept for debugging", -150, "-1.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.q.String())
		})
	}
}

func TestQuantity_JSONRoundTrip(t *testing.T) {
	q := Quantity(1025)
	data, err := json.Marshal(q)
	require.NoError(t, err)
	assert.Equal(t, `"10.25"`, string(data))

	var back Quantity
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, q, back)
}

func TestQuantity_UnmarshalJSON_NumberLiteral(t *testing.T) {
	// The service may emit bare numbers; they parse digit-wise, not via float.
	var q Quantity
	require.NoError(t, json.Unmarshal([]byte(`10.25`), &q))
	assert.Equal(t, Quantity(1025), q)

	require.NoError(t, json.Unmarshal([]byte(`7`), &q))
	assert.Equal(t, Quantity(700), q)
}

func TestQuantity_UnmarshalJSON_RejectsPrecision(t *testing.T) {
	var q Quantity
	assert.Error(t, json.Unmarshal([]byte(`1.253`), &q))
	assert.Error(t, json.Unmarshal([]byte(`"1.253"`), &q))
}

func TestCents_String(t *testing.T) {
	assert.Equal(t, "12.80", Cents(1280).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "-3.40", Cents(-340).String())
}

func TestSubtotal_HalfUpAtCent(t *testing.T) {
	tests := []struct {
		name     string
		unit     Cents
		qty      Quantity
		expected Cents
	}{
		{"exact", 100, 1000, 1000},            // 1.00 * 10.00 = 10.00
		{"exact half rounds up", 133, 150, 200}, // 1.33 * 1.50 = 1.995 -> 2.00
		{"round half up", 101, 50, 51},        // 1.01 * 0.50 = 0.505 -> 0.51
		{"just below half", 101, 49, 49},      // 1.01 * 0.49 = 0.4949 -> 0.49
		{"zero qty", 999, 0, 0},
		{"zero price", 0, 1000, 0},
		{"fractional qty", 250, 1025, 2563},   // 2.50 * 10.25 = 25.625 -> 25.63
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Subtotal(tt.unit, tt.qty))
		})
	}
}
