package linkserver

import "html/template"

var linkPage = template.Must(template.New("link").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Link a bank account</title>
  <script src="https://cdn.plaid.com/link/v2/stable/link-initialize.js"></script>
  <style>
    body { font-family: sans-serif; max-width: 40em; margin: 3em auto; }
    #status { margin-top: 1em; white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>Link a bank account</h1>
  <p>
    <label for="name">Display name</label>
    <input id="name" type="text" placeholder="Chase Business">
  </p>
  <button id="link">Connect bank</button>
  <div id="status"></div>
  <script>
    const status = document.getElementById('status');
    const handler = Plaid.create({
      token: {{.LinkToken}},
      onSuccess: async (publicToken, metadata) => {
        status.textContent = 'Saving account...';
        const name = document.getElementById('name').value ||
          (metadata.institution && metadata.institution.name) || '';
        const resp = await fetch('/api/exchange', {
          method: 'POST',
          headers: {'Content-Type': 'application/json'},
          body: JSON.stringify({public_token: publicToken, display_name: name}),
        });
        const body = await resp.json();
        status.textContent = resp.ok
          ? 'Linked ' + body.display_name + ' (tab: ' + body.destination_label + ')'
          : 'Error: ' + body.error;
      },
      onExit: (err) => {
        if (err) { status.textContent = 'Link exited: ' + err.display_message; }
      },
    });
    document.getElementById('link').onclick = () => handler.open();
  </script>
</body>
</html>
`))

type pageData struct {
	LinkToken string
}
