package domain

import "time"

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Skatepark struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Location      *GeoPoint `json:"location,omitempty"`
	Address       string    `json:"address,omitempty"`
	CreatorID     string    `json:"creatorId"`
	CreatorName   string    `json:"creatorName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	AverageRating float64   `json:"averageRating"`
	RatingCount   int       `json:"ratingCount"`
}

type Rating struct {
	ID          string    `json:"id"`
	SkateparkID string    `json:"skateparkId"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName,omitempty"`
	Value       float64   `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	RatedAt     time.Time `json:"ratedAt"`
}

// RatingSummary is computed from a skatepark's ratings when read.
type RatingSummary struct {
	SkateparkID string  `json:"skateparkId"`
	Count       int     `json:"count"`
	Average     float64 `json:"average"`
}

type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Name is the display name, or the email when none was set.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
