package salesforce

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/DEFRA/apha-integration-bridge-sub000/pkg/errors"
)

var soqlEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
)

// EscapeSOQL escapes s for use inside a single-quoted SOQL string literal.
func EscapeSOQL(s string) string {
	return soqlEscaper.Replace(s)
}

// ContactQuery builds the lookup for one contact by external id.
func ContactQuery(externalIDField, externalID string) string {
	return fmt.Sprintf(
		"SELECT Id, FirstName, LastName, Email, Phone, AccountId FROM Contact WHERE %s = '%s' LIMIT 1",
		externalIDField, EscapeSOQL(externalID),
	)
}

func (c *Client) LookupContact(ctx context.Context, externalID string) (map[string]any, error) {
	result, err := c.Query(ctx, ContactQuery(c.cfg.ContactExternalIDField, externalID))
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, apperrors.ErrNotFound.WithDetail("external_id", externalID)
	}

	record := result.Records[0]
	delete(record, "attributes")
	return record, nil
}
