package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestListOrdersQuery_Valid(t *testing.T) {
	v := New()

	for _, q := range []ListOrdersQuery{
		{},
		{Status: "payment_canceled_error", Limit: 10},
		{Status: "fetched_from_magento", After: "100001234"},
	} {
		if err := v.Struct(q); err != nil {
			t.Fatalf("expected %+v valid, got error: %v", q, err)
		}
	}
}

func TestListOrdersQuery_Invalid(t *testing.T) {
	v := New()

	err := v.Struct(ListOrdersQuery{Status: "canceled", Limit: 5000})
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	fields := FieldErrors(err)
	if fields["status"] != "must be a ledger status" {
		t.Fatalf("unexpected status message: %v", fields)
	}
	if fields["limit"] != "must be at most 1000" {
		t.Fatalf("unexpected limit message: %v", fields)
	}
}

func TestDateTag(t *testing.T) {
	v := New()
	type window struct {
		From string `env:"DATE_FROM" validate:"omitempty,date"`
	}
	if err := v.Struct(window{From: "2024-02-29"}); err != nil {
		t.Fatalf("expected valid date, got %v", err)
	}
	err := v.Struct(window{From: "2024-02-30"})
	if err == nil {
		t.Fatal("expected invalid date error")
	}
	if got := FieldErrors(err)["DATE_FROM"]; got != "must be a YYYY-MM-DD date" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestBindQueryAndValidate_WritesBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/orders?status=bogus", nil)

	var q ListOrdersQuery
	if err := BindQueryAndValidate(c, &q, v); err == nil {
		t.Fatal("expected error")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "validation_failed") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
