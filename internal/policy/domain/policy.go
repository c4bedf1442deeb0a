package domain

import (
	"errors"
	"strings"
	"time"
)

// Package is the Rego package every gate policy module must declare.
const Package = "kallied.gate"

// Policy is an operator-managed Rego module compiled alongside the built-in gate policy. Modules
// widen access with base_allow rules or narrow it with deny rules.
type Policy struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rules     string    `json:"rules"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks required fields. It does not compile Rules.
func (p *Policy) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(p.Rules) == "" {
		return errors.New("rules are required")
	}
	return nil
}
