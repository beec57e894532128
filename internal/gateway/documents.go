package gateway

import (
	"encoding/json"
	"strconv"

	"github.com/wookieewrath/OnMyWay/internal/docstore"
	"github.com/wookieewrath/OnMyWay/internal/models"
)

const (
	UsersCollection    = "users"
	RequestsCollection = "riderRequests"
)

// profile document fields
const (
	fieldFirstName    = "firstName"
	fieldLastName     = "lastName"
	fieldIsDriver     = "isDriver"
	fieldEmail        = "email"
	fieldPhone        = "phone"
	fieldUpRatings    = "upRatings"
	fieldTotalRatings = "totalRatings"
)

// request document fields
const (
	fieldRiderUserName    = "riderUserName"
	fieldDriverUserName   = "driverUserName"
	fieldStartLatitude    = "startLatitude"
	fieldStartLongitude   = "startLongitude"
	fieldEndLatitude      = "endLatitude"
	fieldEndLongitude     = "endLongitude"
	fieldStartAddressName = "startAddressName"
	fieldEndAddressName   = "endAddressName"
	fieldPaymentAmount    = "paymentAmount"
	fieldStatus           = "status"
	fieldRequestID        = "requestID"
	fieldPaymentIntentID  = "paymentIntentID"
)

func userDocument(u models.User) docstore.Document {
	return docstore.Document{
		fieldFirstName:    u.FirstName,
		fieldLastName:     u.LastName,
		fieldIsDriver:     u.IsDriver,
		fieldEmail:        u.Email,
		fieldPhone:        u.Phone,
		fieldUpRatings:    u.UpRatings,
		fieldTotalRatings: u.TotalRatings,
	}
}

// userFromDocument builds a User, using zero values for absent, null or
// mistyped fields.
func userFromDocument(id string, doc docstore.Document) models.User {
	return models.User{
		ID:           id,
		FirstName:    stringField(doc, fieldFirstName),
		LastName:     stringField(doc, fieldLastName),
		IsDriver:     boolField(doc, fieldIsDriver),
		Email:        stringField(doc, fieldEmail),
		Phone:        stringField(doc, fieldPhone),
		UpRatings:    intField(doc, fieldUpRatings),
		TotalRatings: intField(doc, fieldTotalRatings),
	}
}

// requestDocument stores every request field as a string.
func requestDocument(r models.Request) docstore.Document {
	return docstore.Document{
		fieldRiderUserName:    r.RiderUserName,
		fieldDriverUserName:   r.DriverUserName,
		fieldStartLatitude:    formatCoord(r.Start.Lat),
		fieldStartLongitude:   formatCoord(r.Start.Lon),
		fieldEndLatitude:      formatCoord(r.End.Lat),
		fieldEndLongitude:     formatCoord(r.End.Lon),
		fieldStartAddressName: r.StartLocationName,
		fieldEndAddressName:   r.EndLocationName,
		fieldPaymentAmount:    r.PaymentAmount,
		fieldStatus:           r.Status,
		fieldRequestID:        r.RequestID,
	}
}

func formatCoord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func stringField(doc docstore.Document, key string) string {
	if s, ok := doc[key].(string); ok {
		return s
	}
	return ""
}

func boolField(doc docstore.Document, key string) bool {
	switch v := doc[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return false
}

// intField accepts the encodings the store adapters hand back: native
// integers, float64, json.Number and decimal strings.
func intField(doc docstore.Document, key string) int64 {
	switch v := doc[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return 0
}
