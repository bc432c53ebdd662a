package accounts

import (
	"strings"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// Match looks for an existing account owned by userID that the detection
// describes. Account numbers are tried first, then (institution, type), then
// (name, institution). Inactive accounts are never matched.
func Match(userID string, detected *domain.DetectedAccount, existing []*domain.Account) *domain.Account {
	if detected == nil {
		return nil
	}
	owned := make([]*domain.Account, 0, len(existing))
	for _, a := range existing {
		if a != nil && a.UserID == userID && a.Active {
			owned = append(owned, a)
		}
	}

	number := detectedNumber(detected)
	if number != "" {
		for _, a := range owned {
			if NormalizeAccountNumber(a.AccountNumber) == number {
				return a
			}
		}
	}

	institution := SanitizeName(detected.InstitutionName)
	if institution != "" && strings.TrimSpace(detected.AccountType) != "" {
		accountType := NormalizeAccountType(detected.AccountType)
		for _, a := range owned {
			if !strings.EqualFold(a.InstitutionName, institution) || NormalizeAccountType(a.AccountType) != accountType {
				continue
			}
			if conflictingNumber(number, a) {
				continue
			}
			return a
		}
	}

	name := SanitizeName(detected.AccountName)
	if institution != "" && name != "" {
		for _, a := range owned {
			if strings.EqualFold(a.AccountName, name) && strings.EqualFold(a.InstitutionName, institution) && !conflictingNumber(number, a) {
				return a
			}
		}
	}

	return nil
}

// findOwned returns the user's account with the given id.
func findOwned(userID, accountID string, existing []*domain.Account) *domain.Account {
	for _, a := range existing {
		if a != nil && a.AccountID == accountID && a.UserID == userID {
			return a
		}
	}
	return nil
}

func detectedNumber(d *domain.DetectedAccount) string {
	if n := NormalizeAccountNumber(d.AccountNumber); n != "" {
		return n
	}
	return NormalizeAccountNumber(d.CardNumber)
}

// conflictingNumber is true when both sides carry a number and they differ.
func conflictingNumber(number string, a *domain.Account) bool {
	stored := NormalizeAccountNumber(a.AccountNumber)
	return number != "" && stored != "" && stored != number
}
