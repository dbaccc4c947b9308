package question

import "time"

// Question is one interview question in the bank. Questions are created and
// deleted whole; there is no update path.
type Question struct {
	ID        string    `json:"id"`
	Company   string    `json:"company"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// CompanyCount pairs a company name with how many questions it has banked.
type CompanyCount struct {
	Company string `json:"company"`
	Count   int    `json:"count"`
}
