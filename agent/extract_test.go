package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrowser/bap/protocol"
)

const extractFixture = `<!DOCTYPE html>
<html>
<head>
	<title>  Quarterly   Report  </title>
	<meta name="description" content="Numbers for Q3">
	<meta property="og:title" content="Q3 Report">
	<link rel="canonical" href="https://example.com/q3">
</head>
<body>
	<nav><a href="/home">Home</a></nav>
	<main>
		<h1>Q3 results</h1>
		<p>Revenue grew in every region.</p>
		<table>
			<caption>Revenue by region</caption>
			<thead><tr><th>Region</th><th>Revenue</th></tr></thead>
			<tbody>
				<tr><td>EMEA</td><td>1.2M</td></tr>
				<tr><td>APAC</td><td>0.9M</td></tr>
			</tbody>
		</table>
		<ul>
			<li>Strong EMEA growth</li>
			<li>New APAC office
				<ul><li>Tokyo</li></ul>
			</li>
		</ul>
		<ol>
			<li>Hire</li>
			<li>Ship</li>
		</ol>
		<a href="https://example.com/details">Full details</a>
		<a href="#top">Back to top</a>
		<form action="/subscribe" method="post">
			<label for="email">Email address</label>
			<input type="email" id="email" name="email" required value="a@b.c">
			<input type="password" name="pw" value="hunter2">
			<input type="hidden" name="csrf" value="tok">
			<select name="plan">
				<option>Free</option>
				<option>Pro</option>
			</select>
		</form>
	</main>
	<footer>fine print</footer>
</body>
</html>`

func TestExtractTables(t *testing.T) {
	t.Parallel()

	out, err := Extract(extractFixture, ExtractOptions{Kind: ExtractTables})
	require.NoError(t, err)
	require.Len(t, out.Tables, 1)

	table := out.Tables[0]
	assert.Equal(t, "Revenue by region", table.Caption)
	assert.Equal(t, []string{"Region", "Revenue"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"EMEA", "1.2M"}, table.Rows[0])
	assert.Equal(t, []string{"APAC", "0.9M"}, table.Rows[1])
}

func TestExtractLists(t *testing.T) {
	t.Parallel()

	out, err := Extract(extractFixture, ExtractOptions{Kind: ExtractLists})
	require.NoError(t, err)
	require.Len(t, out.Lists, 2, "the nested list must not appear on its own")

	assert.False(t, out.Lists[0].Ordered)
	require.Len(t, out.Lists[0].Items, 2)
	assert.Equal(t, "Strong EMEA growth", out.Lists[0].Items[0])
	assert.Contains(t, out.Lists[0].Items[1], "Tokyo")

	assert.True(t, out.Lists[1].Ordered)
	assert.Equal(t, []string{"Hire", "Ship"}, out.Lists[1].Items)
}

func TestExtractArticle(t *testing.T) {
	t.Parallel()

	out, err := Extract(extractFixture, ExtractOptions{Kind: ExtractArticle})
	require.NoError(t, err)

	assert.Contains(t, out.Article, "Revenue grew in every region.")
	assert.NotContains(t, out.Article, "fine print")
}

func TestExtractArticleFallsBackToStrippedBody(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<nav>menu menu menu</nav>
		<p>The actual story.</p>
		<footer>copyright</footer>
	</body></html>`

	out, err := Extract(html, ExtractOptions{Kind: ExtractArticle})
	require.NoError(t, err)

	assert.Contains(t, out.Article, "The actual story.")
	assert.NotContains(t, out.Article, "menu")
	assert.NotContains(t, out.Article, "copyright")
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	out, err := Extract(extractFixture, ExtractOptions{Kind: ExtractLinks})
	require.NoError(t, err)

	hrefs := make([]string, 0, len(out.Links))
	for _, l := range out.Links {
		hrefs = append(hrefs, l.Href)
	}
	assert.Contains(t, hrefs, "https://example.com/details")
	assert.Contains(t, hrefs, "/home")
	assert.NotContains(t, hrefs, "#top")
}

func TestExtractForms(t *testing.T) {
	t.Parallel()

	out, err := Extract(extractFixture, ExtractOptions{Kind: ExtractForms})
	require.NoError(t, err)
	require.Len(t, out.Forms, 1)

	form := out.Forms[0]
	assert.Equal(t, "/subscribe", form.Action)
	assert.Equal(t, "post", form.Method)
	require.Len(t, form.Fields, 3, "hidden inputs are skipped")

	email := form.Fields[0]
	assert.Equal(t, "email", email.Name)
	assert.Equal(t, "Email address", email.Label)
	assert.True(t, email.Required)
	assert.Equal(t, "a@b.c", email.Value)

	pw := form.Fields[1]
	assert.Equal(t, "password", pw.Type)
	assert.Empty(t, pw.Value, "password values are never extracted")

	plan := form.Fields[2]
	assert.Equal(t, "select", plan.Type)
	assert.Equal(t, []string{"Free", "Pro"}, plan.Options)
}

func TestExtractMetadata(t *testing.T) {
	t.Parallel()

	out, err := Extract(extractFixture, ExtractOptions{Kind: ExtractMetadata})
	require.NoError(t, err)

	assert.Equal(t, "Quarterly Report", out.Metadata["title"])
	assert.Equal(t, "Numbers for Q3", out.Metadata["description"])
	assert.Equal(t, "Q3 Report", out.Metadata["og:title"])
	assert.Equal(t, "https://example.com/q3", out.Metadata["canonical"])
}

func TestExtractAuto(t *testing.T) {
	t.Parallel()

	out, err := Extract(extractFixture, ExtractOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, out.Tables)
	assert.NotEmpty(t, out.Lists)
	assert.NotEmpty(t, out.Article)
	assert.NotEmpty(t, out.Links)
	assert.NotEmpty(t, out.Forms)
	assert.NotEmpty(t, out.Metadata)
}

func TestExtractScopedSelector(t *testing.T) {
	t.Parallel()

	out, err := Extract(extractFixture, ExtractOptions{Kind: ExtractLinks, Selector: "nav"})
	require.NoError(t, err)
	require.Len(t, out.Links, 1)
	assert.Equal(t, "/home", out.Links[0].Href)

	_, err = Extract(extractFixture, ExtractOptions{Selector: "#no-such-node"})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.CodeElementNotFound, perr.Code)
}

func TestExtractMaxItems(t *testing.T) {
	t.Parallel()

	out, err := Extract(extractFixture, ExtractOptions{Kind: ExtractLinks, MaxItems: 1})
	require.NoError(t, err)
	assert.Len(t, out.Links, 1)
}

func TestExtractUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := Extract(extractFixture, ExtractOptions{Kind: "sentiment"})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.CodeInvalidParams, perr.Code)
}
