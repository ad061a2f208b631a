package web

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Checks against the page assets shipped in the repository.

func readAsset(t *testing.T, parts ...string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(append([]string{"..", ".."}, parts...)...))
	require.NoError(t, err)
	return string(b)
}

func section(t *testing.T, src, start, end string) string {
	t.Helper()
	i := strings.Index(src, start)
	require.GreaterOrEqual(t, i, 0, "missing %q", start)
	j := strings.Index(src[i:], end)
	require.Greater(t, j, 0, "missing %q after %q", end, start)
	return src[i : i+j]
}

func TestPageReferencesShippedAssets(t *testing.T) {
	html := readAsset(t, "views", "buy-met.html")
	for _, ref := range []string{"/static/buy-page.js", "/static/style.css"} {
		assert.Contains(t, html, ref)
		_, err := os.Stat(filepath.Join("..", "..", "public", strings.TrimPrefix(ref, "/static/")))
		assert.NoError(t, err, ref)
	}
}

func TestPagePurchaseTakesBusyBeforeFirstRequest(t *testing.T) {
	js := readAsset(t, "public", "buy-page.js")
	body := section(t, js, "async purchase()", "async waitReceipt(")

	busy := strings.Index(body, "this.state.busy = true")
	try := strings.Index(body, "try {")
	prepare := strings.Index(body, "/api/purchase/prepare")
	send := strings.Index(body, "eth_sendTransaction")
	require.True(t, busy > 0 && try > 0 && prepare > 0 && send > 0)

	assert.Less(t, busy, prepare)
	assert.Less(t, try, prepare, "prepare request must be inside try/finally")
	assert.Less(t, prepare, send)
	assert.Contains(t, body[try:], "finally")
}

func TestPageQuoteIgnoresStaleResponses(t *testing.T) {
	js := readAsset(t, "public", "buy-page.js")
	body := section(t, js, "async updateQuote()", "refreshButton()")
	assert.Contains(t, body, "amount !== this.dom.amount.value")
}

func TestPageTellsUserWhenSwitchRefused(t *testing.T) {
	js := readAsset(t, "public", "buy-page.js")
	body := section(t, js, "wallet_switchEthereumChain", "eth_requestAccounts")
	assert.Contains(t, body, "alert(")
}
