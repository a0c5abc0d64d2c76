package validation

// ListOrdersQuery is the query string for GET /orders.
type ListOrdersQuery struct {
	Status string `form:"status" validate:"omitempty,ledger_status"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=1000"` // default 100
	After  string `form:"after"`                                      // order id cursor
}
