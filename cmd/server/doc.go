/*
Package main implements larkhook, a GitHub webhook listener that relays each
delivery to a Feishu (Lark) custom bot as a rich-text "post" message.

Each request to the webhook path is checked, formatted and forwarded:
  - HMAC-SHA256 signature verification when a webhook secret is configured
  - optional event allowlist (unlisted events get 400)
  - issues, issue_comment, pull_request and push get dedicated layouts;
    every other event is rendered generically with a JSON dump of the payload
  - long bodies are truncated to 1000 characters

Security features include:
  - Rate limiting per IP address
  - Total connection limit
  - Optional GitHub hook source-IP allowlist
  - TLS support via Let's Encrypt

Usage:

	GITHUB_WEBHOOK_SECRET=secret larkhook \
	    --feishu-webhook-url=https://open.feishu.cn/open-apis/bot/v2/hook/xxx \
	    --letsencrypt --le-domains=hooks.example.com

Configuration is read from defaults, then an optional YAML file (--config),
then environment variables, then command-line flags. Secrets may also come
from Google Secret Manager when --gcp-project is set.

The server exposes two endpoints:
  - /webhook - Receives GitHub webhook events (path configurable)
  - /healthz - Liveness probe

Responses are JSON:

	{"message": "Message sent to Feishu successfully", "success": true}
*/
package main
