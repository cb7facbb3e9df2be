package email

import (
	"bytes"
	"fmt"
	"html/template"
)

var purchaseTemplate = template.Must(template.New("purchase_confirmation").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Your Impota guide is ready</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">Your {{.TierName}} guide is ready</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Thanks for your purchase. Your import cost guide for {{.CountryName}} is now unlocked for this email address.
</p>
<a href="{{.PortalURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Open Your Guide
</a>
<p style="margin: 24px 0 0; color: #999; font-size: 13px; line-height: 1.5;">
Sign in with this email address on up to 2 phones and 2 computers.
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// PurchaseData holds template data for the purchase confirmation email.
type PurchaseData struct {
	TierName    string
	CountryName string
	PortalURL   string
}

// RenderPurchaseEmail renders the purchase confirmation HTML email.
func RenderPurchaseEmail(data PurchaseData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := purchaseTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render purchase template: %w", err)
	}

	textBody := fmt.Sprintf("Your %s guide is ready\n\nThanks for your purchase. Open your import cost guide for %s here: %s\n\nSign in with this email address on up to 2 phones and 2 computers.",
		data.TierName, data.CountryName, data.PortalURL)

	return buf.String(), textBody, nil
}
