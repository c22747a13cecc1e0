package handler

import (
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}

// numericToStockString keeps four decimals for stock quantities.
func numericToStockString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.0000"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.0000"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.0000"
	}
	return d.StringFixed(4)
}
