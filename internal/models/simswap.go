package models

type SimSwapResult struct {
	PhoneNumber string `json:"phone_number"`
	Swapped     bool   `json:"swapped"`
	MaxAge      int    `json:"max_age"`
}
