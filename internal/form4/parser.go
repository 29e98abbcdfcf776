// Package form4 extracts insider transaction facts from SEC Form 4 XML.
//
// Extraction is best effort: every field is looked up with a first-match
// XPath and a missing element leaves the field nil. Only a document that is
// not well-formed XML is rejected.
package form4

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/bighogz/form4-feed/internal/models"
)

// ErrUnreadable marks a document that could not be parsed as XML at all.
var ErrUnreadable = errors.New("form4: unreadable document")

var (
	issuerNameExpr   = xpath.MustCompile("//issuerName")
	issuerTickerExpr = xpath.MustCompile("//issuerTradingSymbol")
	ownerNameExpr    = xpath.MustCompile("//rptOwnerName")
	ownerCIKExpr     = xpath.MustCompile("//rptOwnerCik")
	ownerTitleExpr   = xpath.MustCompile("//reportingOwnerRelationship/officerTitle")

	// Only the first non-derivative transaction is kept.
	transactionExpr = xpath.MustCompile("//nonDerivativeTransaction")

	// Relative to the transaction node.
	txnDateExpr        = xpath.MustCompile(".//transactionDate/value")
	txnSharesExpr      = xpath.MustCompile(".//transactionShares/value")
	txnPriceExpr       = xpath.MustCompile(".//transactionPricePerShare/value")
	txnCodeExpr        = xpath.MustCompile(".//transactionCode")
	txnSharesAfterExpr = xpath.MustCompile(".//sharesOwnedFollowingTransaction/value")
)

// ParseFile opens path and parses it, recording path as the source file.
func ParseFile(path string) (*models.FilingRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads one filing document. The only error it returns wraps
// ErrUnreadable; absent fields are nil on the returned record.
func Parse(r io.Reader, sourceFile string) (*models.FilingRecord, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, sourceFile, err)
	}
	if !hasElement(doc) {
		return nil, fmt.Errorf("%w: %s: no root element", ErrUnreadable, sourceFile)
	}

	rec := &models.FilingRecord{
		SourceFile:             sourceFile,
		IssuerName:             text(doc, issuerNameExpr),
		IssuerTicker:           text(doc, issuerTickerExpr),
		ReportingOwner:         text(doc, ownerNameExpr),
		ReportingOwnerCIK:      text(doc, ownerCIKExpr),
		ReportingOwnerPosition: text(doc, ownerTitleExpr),
	}

	txn := find(doc, transactionExpr)
	if txn == nil {
		return rec, nil
	}
	rec.TransactionDate = text(txn, txnDateExpr)
	rec.TransactionShares = text(txn, txnSharesExpr)
	rec.TransactionPrice = text(txn, txnPriceExpr)
	rec.TransactionType = text(txn, txnCodeExpr)
	rec.SharesAfterTransaction = text(txn, txnSharesAfterExpr)
	return rec, nil
}

func hasElement(doc *xmlquery.Node) bool {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return true
		}
	}
	return false
}

// find returns the first match, or nil. A failing lookup degrades to nil.
func find(top *xmlquery.Node, expr *xpath.Expr) (n *xmlquery.Node) {
	defer func() {
		if recover() != nil {
			n = nil
		}
	}()
	return xmlquery.QuerySelector(top, expr)
}

func text(top *xmlquery.Node, expr *xpath.Expr) *string {
	n := find(top, expr)
	if n == nil {
		return nil
	}
	return models.Str(strings.TrimSpace(n.InnerText()))
}
