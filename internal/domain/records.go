// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Contract represents an awarded procurement contract.
type Contract struct {
	ID               string    `json:"id"`
	BiddingProcessID string    `json:"biddingProcessId"`
	BidAmount        float64   `json:"bidAmount"`
	VendorID         string    `json:"vendorId"`
	VendorName       string    `json:"vendorName,omitempty"`
	ContractDate     time.Time `json:"contractDate"`
	Category         string    `json:"category,omitempty"`
}

// Vendor represents a registered supplier.
type Vendor struct {
	VendorID         string    `json:"vendorId"`
	Name             string    `json:"name"`
	RegistrationDate time.Time `json:"registrationDate"`
	Address          string    `json:"address,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Email            string    `json:"email,omitempty"`
}

// Invoice represents a billed amount from a vendor.
type Invoice struct {
	VendorID      string    `json:"vendorId"`
	Amount        float64   `json:"amount"`
	Date          time.Time `json:"date"`
	InvoiceNumber string    `json:"invoiceNumber"`
	Description   string    `json:"description,omitempty"`
}

// Transaction represents a payment between two entities.
type Transaction struct {
	PayerID     string    `json:"payerId"`
	RecipientID string    `json:"recipientId"`
	Amount      float64   `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// Batch is an immutable snapshot of records supplied to one analysis call.
// Any record kind may be absent; detectors that need it are skipped.
type Batch struct {
	Contracts    []Contract    `json:"contracts,omitempty"`
	Vendors      []Vendor      `json:"vendors,omitempty"`
	Invoices     []Invoice     `json:"invoices,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

// IsEmpty reports whether the batch holds no records of any kind.
func (b *Batch) IsEmpty() bool {
	return b == nil ||
		len(b.Contracts) == 0 && len(b.Vendors) == 0 &&
			len(b.Invoices) == 0 && len(b.Transactions) == 0
}

// Size returns the total record count across all kinds.
func (b *Batch) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Contracts) + len(b.Vendors) + len(b.Invoices) + len(b.Transactions)
}

// Sanitize drops records missing required identifying fields and returns
// the number of records dropped. The receiver is modified in place; callers
// wanting an untouched snapshot should sanitize a copy.
func (b *Batch) Sanitize() int {
	dropped := 0

	contracts := b.Contracts[:0]
	for _, c := range b.Contracts {
		if c.VendorID == "" || c.ID == "" {
			dropped++
			continue
		}
		contracts = append(contracts, c)
	}
	b.Contracts = contracts

	vendors := b.Vendors[:0]
	for _, v := range b.Vendors {
		if v.VendorID == "" {
			dropped++
			continue
		}
		vendors = append(vendors, v)
	}
	b.Vendors = vendors

	invoices := b.Invoices[:0]
	for _, inv := range b.Invoices {
		if inv.VendorID == "" {
			dropped++
			continue
		}
		invoices = append(invoices, inv)
	}
	b.Invoices = invoices

	txs := b.Transactions[:0]
	for _, tx := range b.Transactions {
		if tx.PayerID == "" || tx.RecipientID == "" {
			dropped++
			continue
		}
		txs = append(txs, tx)
	}
	b.Transactions = txs

	return dropped
}

// Digest returns a deterministic content digest of the batch, used as the
// cache key for analysis results. Record order does not affect the digest.
func (b *Batch) Digest() string {
	lines := make([]string, 0, b.Size())
	for _, c := range b.Contracts {
		lines = append(lines, fmt.Sprintf("c|%s|%s|%.2f|%s|%d|%s",
			c.ID, c.BiddingProcessID, c.BidAmount, c.VendorID, c.ContractDate.UnixNano(), c.Category))
	}
	for _, v := range b.Vendors {
		lines = append(lines, fmt.Sprintf("v|%s|%d|%s|%s|%s",
			v.VendorID, v.RegistrationDate.UnixNano(), v.Address, v.Phone, v.Email))
	}
	for _, inv := range b.Invoices {
		lines = append(lines, fmt.Sprintf("i|%s|%.2f|%d|%s",
			inv.VendorID, inv.Amount, inv.Date.UnixNano(), inv.InvoiceNumber))
	}
	for _, tx := range b.Transactions {
		lines = append(lines, fmt.Sprintf("t|%s|%s|%.2f|%d",
			tx.PayerID, tx.RecipientID, tx.Amount, tx.Timestamp.UnixNano()))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
