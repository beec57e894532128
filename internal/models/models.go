package models

import "strings"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// User is a profile record. ID is the identity UID and never changes once set.
type User struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	IsDriver     bool   `json:"is_driver"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	UpRatings    int64  `json:"up_ratings"`
	TotalRatings int64  `json:"total_ratings"`
}

// ProfilePhotoURL derives the photo location from the user id.
func (u User) ProfilePhotoURL(base string) string {
	return strings.TrimRight(base, "/") + "/profile_photos/" + u.ID + ".jpg"
}

// Rating is the share of positive ratings, 0 when the user was never rated.
func (u User) Rating() float64 {
	if u.TotalRatings <= 0 {
		return 0
	}
	return float64(u.UpRatings) / float64(u.TotalRatings)
}

// Request statuses used by the app screens. Not enforced here.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusCompleted = "completed"
)

// Request is a rider's ride request.
type Request struct {
	RequestID         string `json:"request_id"`
	RiderUserName     string `json:"rider_username"`
	DriverUserName    string `json:"driver_username,omitempty"` // empty until matched
	Start             Coord  `json:"start"`
	End               Coord  `json:"end"`
	StartLocationName string `json:"start_location_name"`
	EndLocationName   string `json:"end_location_name"`
	PaymentAmount     string `json:"payment_amount"`
	Status            string `json:"status"`
}
