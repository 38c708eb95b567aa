package lookup

import (
	"context"

	"leadpilot/internal/oracle"
)

// OracleProvider runs discovery searches through the AI oracle.
type OracleProvider struct {
	Client oracle.Client
}

func (p OracleProvider) Name() string { return "oracle" }

func (p OracleProvider) Search(ctx context.Context, query string, limit int) (string, []Entry, error) {
	text, businesses, err := p.Client.DiscoverBusinesses(ctx, query, limit)
	if err != nil {
		return "", nil, err
	}
	entries := make([]Entry, 0, len(businesses))
	for _, b := range businesses {
		entries = append(entries, Entry{
			Name:    b.Name,
			Website: b.Website,
			Phone:   b.Phone,
			Address: b.Address,
			Detail:  b.Detail,
		})
	}
	return text, entries, nil
}
