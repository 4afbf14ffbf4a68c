package storage

import (
	"context"
	"fmt"
	"time"
)

// DefaultCategories are upserted by Seed.
var DefaultCategories = []Category{
	{Name: "Proxy", Description: "Egress through the web proxy"},
	{Name: "DLP", Description: "Data loss prevention"},
	{Name: "Threat", Description: "Threat protection (phishing, malware)"},
	{Name: "Custom", Description: "Custom tests"},
}

var defaultApps = []Application{
	{
		Name: "Dropbox", Description: "Consumer cloud storage", Category: AppCloudStorage,
		Endpoints: []Endpoint{
			{Label: "Web", URL: "https://dropbox.com", Kind: EndpointWeb},
			{Label: "API v2", URL: "https://api.dropboxapi.com/2/files/list_folder", Kind: EndpointAPI, Method: "POST", Notes: "list_folder call"},
		},
	},
	{
		Name: "Google Drive", Description: "Google Workspace storage", Category: AppCloudStorage,
		Endpoints: []Endpoint{
			{Label: "Web", URL: "https://drive.google.com", Kind: EndpointWeb},
			{Label: "Drive API", URL: "https://www.googleapis.com/drive/v3/files", Kind: EndpointAPI, Method: "GET"},
		},
	},
	{
		Name: "WeTransfer", Description: "Large file transfer", Category: AppFileTransfer,
		Endpoints: []Endpoint{
			{Label: "Web", URL: "https://wetransfer.com", Kind: EndpointWeb},
			{Label: "Assets CDN", URL: "https://cdn.wetransfer.net", Kind: EndpointFile},
		},
	},
	{
		Name: "Twitter", Description: "Social network / X", Category: AppSocialMedia,
		Endpoints: []Endpoint{
			{Label: "Web", URL: "https://twitter.com", Kind: EndpointWeb},
			{Label: "API v2", URL: "https://api.twitter.com/2/tweets", Kind: EndpointAPI, Method: "GET"},
		},
	},
	{
		Name: "Salesforce", Description: "SaaS CRM", Category: AppSaaS,
		Endpoints: []Endpoint{
			{Label: "Login", URL: "https://login.salesforce.com", Kind: EndpointWeb},
			{Label: "REST API", URL: "https://your-domain.salesforce.com/services/data/v59.0", Kind: EndpointAPI, Method: "GET"},
		},
	},
}

// DefaultApplicationNames lists the applications Seed maintains.
func DefaultApplicationNames() []string {
	names := make([]string, len(defaultApps))
	for i, a := range defaultApps {
		names[i] = a.Name
	}
	return names
}

// Seed upserts the default categories and applications. Endpoints of a
// default application are only inserted when it has none, so edits made
// after the first start survive restarts.
func (d *DB) Seed(ctx context.Context) error {
	return d.withTx(ctx, func(q querier) error {
		for _, c := range DefaultCategories {
			_, err := q.ExecContext(ctx,
				d.rebind(`INSERT INTO categories (name, description, created_at) VALUES (?, ?, ?)
					ON CONFLICT(name) DO UPDATE SET description = excluded.description`),
				c.Name, c.Description, formatTime(time.Now()),
			)
			if err != nil {
				return fmt.Errorf("seeding category %q: %w", c.Name, err)
			}
		}

		for _, a := range defaultApps {
			var appID int64
			err := q.QueryRowContext(ctx,
				d.rebind(`INSERT INTO applications (name, description, category, is_default, created_at)
					VALUES (?, ?, ?, TRUE, ?)
					ON CONFLICT(name) DO UPDATE SET description = excluded.description,
						category = excluded.category, is_default = TRUE
					RETURNING id`),
				a.Name, a.Description, a.Category, formatTime(time.Now()),
			).Scan(&appID)
			if err != nil {
				return fmt.Errorf("seeding application %q: %w", a.Name, err)
			}

			var count int
			if err := q.QueryRowContext(ctx,
				d.rebind(`SELECT COUNT(*) FROM endpoints WHERE application_id = ?`), appID,
			).Scan(&count); err != nil {
				return fmt.Errorf("counting endpoints of %q: %w", a.Name, err)
			}
			if count > 0 {
				continue
			}
			for _, e := range a.Endpoints {
				e.ApplicationID = appID
				if _, err := insertEndpoint(ctx, q, d.rebind, e); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
