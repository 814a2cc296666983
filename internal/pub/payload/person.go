// Package payload holds the data sources that fill synthetic records.
package payload

import (
	"context"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// Person is the fabricated body of a record.
type Person struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	CityName    string    `json:"city_name"`
	CompanyName string    `json:"company_name"`
	StreetName  string    `json:"street_name"`
	Zipcode     string    `json:"zipcode"`
	Country     string    `json:"country"`
}

// PersonSource fabricates a new Person on every call. It is safe for
// concurrent use; each caller borrows its own faker from a pool.
type PersonSource struct {
	fakers sync.Pool
}

func NewPersonSource() *PersonSource {
	return &PersonSource{
		fakers: sync.Pool{
			New: func() any { return gofakeit.New(0) },
		},
	}
}

func (s *PersonSource) Next(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := s.fakers.Get().(*gofakeit.Faker)
	defer s.fakers.Put(f)

	return Person{
		ID:          uuid.New(),
		Title:       f.JobTitle(),
		FirstName:   f.FirstName(),
		LastName:    f.LastName(),
		CityName:    f.City(),
		CompanyName: f.Company(),
		StreetName:  f.Street(),
		Zipcode:     f.Zip(),
		Country:     f.Country(),
	}, nil
}
