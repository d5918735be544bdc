// internal/fixture/accounts.go
package fixture

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrAccountExists is returned when an email is already registered.
var ErrAccountExists = errors.New("an account with this email already exists")

// Account is a registered user. Passwords are never retained.
type Account struct {
	Email     string
	CreatedAt time.Time
}

// AccountStore is an in-memory account registry.
type AccountStore struct {
	mu       sync.Mutex
	accounts []Account
}

func NewAccountStore() *AccountStore { return &AccountStore{} }

func (s *AccountStore) Create(email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountExists, email)
		}
	}
	a := Account{Email: email, CreatedAt: time.Now().UTC()}
	s.accounts = append(s.accounts, a)
	return a, nil
}

func (s *AccountStore) List() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.accounts)
}

// ValidateSignup applies the signup form's rules in the order the client applies
// them and returns the first diagnostic, or "" when the input is acceptable.
func ValidateSignup(email, password, confirmPassword string, minPasswordLength int) string {
	msgs := MessagesFor(minPasswordLength)
	if password != confirmPassword {
		return msgs.Mismatch
	}
	if len([]rune(password)) < minPasswordLength {
		return msgs.TooShort
	}
	if !strings.Contains(email, "@") {
		return "Please enter a valid email address."
	}
	return ""
}
