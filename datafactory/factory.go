// Package datafactory generates synthetic payloads for API tests.
package datafactory

import (
	"github.com/brianvoe/gofakeit/v7"
)

// UserPayload is a synthetic user entity.
type UserPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	City  string `json:"city"`
}

// ToMap returns the payload as a JSON-shaped map.
func (u UserPayload) ToMap() map[string]any {
	return map[string]any{
		"name":  u.Name,
		"email": u.Email,
		"city":  u.City,
	}
}

// Factory produces synthetic data. It is safe for concurrent use.
type Factory struct {
	faker *gofakeit.Faker
}

// New creates a factory. A non-zero seed makes the output reproducible;
// zero seeds from a cryptographic source.
func New(seed uint64) *Factory {
	return &Factory{faker: gofakeit.New(seed)}
}

// UserPayload generates a user with a realistic name, email and city.
func (f *Factory) UserPayload() UserPayload {
	return UserPayload{
		Name:  f.faker.Name(),
		Email: f.faker.Email(),
		City:  f.faker.City(),
	}
}

// QueryParam generates a single random word-to-word query parameter.
func (f *Factory) QueryParam() map[string]string {
	key := f.faker.Word()
	for key == "" {
		key = f.faker.Word()
	}
	return map[string]string{key: f.faker.Word()}
}
