// Package directory is the customer system of record the concierge verifies
// identities and reads account data against. The in-memory book stands in
// for the real backend; it is also the demo dataset for local runs.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/careline/concierge/internal/verify"
)

// ErrInactive marks a customer whose access was revoked after they
// authenticated. Callers translate it to a forced re-verification.
var ErrInactive = errors.New("customer record inactive")

// ErrUnknownCustomer is returned for data operations on ids the book does
// not hold.
var ErrUnknownCustomer = errors.New("unknown customer")

// Transaction is one ledger entry on a customer account.
type Transaction struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
	Memo   string    `json:"memo"`
}

// Account is one customer record.
type Account struct {
	CustomerID    string
	Name          string
	Phone         string
	Email         string
	AccountNumber string
	SSNLast4      string
	DOB           string
	Active        bool
	Balance       float64
	Transactions  []Transaction
}

// Book is a concurrency-safe in-memory account directory.
type Book struct {
	mu         sync.RWMutex
	byCustomer map[string]*Account
	byHandle   map[string]string
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		byCustomer: make(map[string]*Account),
		byHandle:   make(map[string]string),
	}
}

// Add registers an account and indexes its contact handles.
func (b *Book) Add(a Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct := a
	b.byCustomer[a.CustomerID] = &acct
	for _, h := range []string{a.Phone, a.Email, a.AccountNumber} {
		if h != "" {
			b.byHandle[normalizeHandle(h)] = a.CustomerID
		}
	}
}

// Lookup implements verify.Directory.
func (b *Book) Lookup(_ context.Context, identifier string) (verify.LookupResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byHandle[normalizeHandle(identifier)]
	if !ok {
		return verify.LookupResult{}, nil
	}
	a := b.byCustomer[id]
	return verify.LookupResult{Found: true, CustomerID: a.CustomerID, CustomerName: a.Name}, nil
}

// VerifyFactor implements verify.Directory.
func (b *Book) VerifyFactor(_ context.Context, identifier, factorType, answer string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byHandle[normalizeHandle(identifier)]
	if !ok {
		return false, fmt.Errorf("no candidate for identifier %q", identifier)
	}
	a := b.byCustomer[id]
	answer = strings.TrimSpace(answer)
	switch factorType {
	case verify.FactorSSN:
		return answer == a.SSNLast4, nil
	case verify.FactorDOB:
		return answer == a.DOB, nil
	default:
		return false, fmt.Errorf("unsupported factor type %q", factorType)
	}
}

// Balance returns the current balance, or ErrInactive / ErrUnknownCustomer.
func (b *Book) Balance(customerID string) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, err := b.activeLocked(customerID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// Transactions returns up to limit most recent ledger entries.
func (b *Book) Transactions(customerID string, limit int) ([]Transaction, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, err := b.activeLocked(customerID)
	if err != nil {
		return nil, err
	}
	txs := a.Transactions
	if limit > 0 && len(txs) > limit {
		txs = txs[len(txs)-limit:]
	}
	out := make([]Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

// SubmitPayment debits the account and records the transaction. Callers must
// have obtained user approval first.
func (b *Book) SubmitPayment(customerID string, amount float64, memo string) (Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.activeLocked(customerID)
	if err != nil {
		return Transaction{}, err
	}
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("payment amount must be positive, got %v", amount)
	}
	tx := Transaction{
		ID:     fmt.Sprintf("tx-%s-%d", customerID, len(a.Transactions)+1),
		Date:   time.Now(),
		Amount: -amount,
		Memo:   memo,
	}
	a.Balance -= amount
	a.Transactions = append(a.Transactions, tx)
	return tx, nil
}

// UpdateContact changes a contact handle and reindexes it.
func (b *Book) UpdateContact(customerID, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.activeLocked(customerID)
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty value for %s", field)
	}
	var old string
	switch field {
	case "phone":
		old, a.Phone = a.Phone, value
	case "email":
		old, a.Email = a.Email, value
	default:
		return fmt.Errorf("unsupported contact field %q", field)
	}
	if old != "" {
		delete(b.byHandle, normalizeHandle(old))
	}
	b.byHandle[normalizeHandle(value)] = customerID
	return nil
}

// Deactivate revokes a customer's access mid-session.
func (b *Book) Deactivate(customerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.byCustomer[customerID]; ok {
		a.Active = false
	}
}

func (b *Book) activeLocked(customerID string) (*Account, error) {
	a, ok := b.byCustomer[customerID]
	if !ok {
		return nil, ErrUnknownCustomer
	}
	if !a.Active {
		return nil, ErrInactive
	}
	return a, nil
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// SeedDemo returns a book with a small demo dataset.
func SeedDemo() *Book {
	b := NewBook()
	b.Add(Account{
		CustomerID:    "C-1001",
		Name:          "Dana Whitfield",
		Phone:         "555-1234",
		Email:         "dana@example.com",
		AccountNumber: "ACCT-80231",
		SSNLast4:      "1234",
		DOB:           "1990-04-02",
		Active:        true,
		Balance:       412.57,
		Transactions: []Transaction{
			{ID: "tx-C-1001-1", Date: time.Now().AddDate(0, 0, -20), Amount: -59.99, Memo: "Monthly plan"},
			{ID: "tx-C-1001-2", Date: time.Now().AddDate(0, 0, -5), Amount: -12.50, Memo: "Add-on"},
		},
	})
	b.Add(Account{
		CustomerID:    "C-1002",
		Name:          "Marcus Lee",
		Phone:         "555-9876",
		Email:         "marcus@example.com",
		AccountNumber: "ACCT-80232",
		SSNLast4:      "7710",
		DOB:           "1984-11-19",
		Active:        true,
		Balance:       1280.00,
	})
	return b
}
