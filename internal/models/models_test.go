package models

import "testing"

func TestProfilePhotoURL(t *testing.T) {
	u := User{ID: "uid-1"}
	got := u.ProfilePhotoURL("https://cdn.example.com/")
	want := "https://cdn.example.com/profile_photos/uid-1.jpg"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestRating(t *testing.T) {
	cases := []struct {
		name     string
		up, tot  int64
		expected float64
	}{
		{"never rated", 0, 0, 0},
		{"all positive", 4, 4, 1},
		{"half", 2, 4, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := User{UpRatings: tc.up, TotalRatings: tc.tot}
			if got := u.Rating(); got != tc.expected {
				t.Fatalf("expected %f, got %f", tc.expected, got)
			}
		})
	}
}
