package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// IDGenerator derives stable transaction ids from statement content.
// Ids are scoped to the importing user, so two users importing the same
// statement never share an id. Identical rows within one file get distinct
// ids through an occurrence counter, so re-importing the same file
// reproduces the same ids.
type IDGenerator struct {
	prefix string
	userID string
	seen   map[string]int
}

// NewIDGenerator creates a generator for one file imported by userID.
func NewIDGenerator(source domain.ImportSource, userID string) *IDGenerator {
	return &IDGenerator{
		prefix: strings.ToLower(string(source)),
		userID: userID,
		seen:   make(map[string]int),
	}
}

// Next returns the id of the next row with these values. reference is the
// bank's own row reference, if the statement has one; it only feeds the hash.
func (g *IDGenerator) Next(date civil.Date, amount decimal.Decimal, description, reference string) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%s",
		g.userID,
		date,
		amount.StringFixed(2),
		strings.Join(strings.Fields(strings.ToLower(description)), " "),
		strings.TrimSpace(reference),
	)
	occurrence := g.seen[key]
	g.seen[key]++

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", key, occurrence)))
	return g.prefix + "-" + hex.EncodeToString(sum[:16])
}
