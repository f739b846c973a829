package manager

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleConsole serves the single-page console.
func (s *Server) handleConsole(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(consolePage))
}

const consolePage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Notifications Manager</title>
<style>
  body { font-family: ui-monospace, monospace; margin: 2rem; max-width: 64rem; }
  h1 { font-size: 1.2rem; }
  fieldset { margin-bottom: 1rem; border: 1px solid #999; }
  input, textarea { width: 100%; box-sizing: border-box; font: inherit; }
  button { font: inherit; padding: .3rem 1rem; }
  pre { background: #f4f4f4; padding: .5rem; overflow: auto; max-height: 24rem; }
  table { border-collapse: collapse; width: 100%; }
  td, th { border: 1px solid #ccc; padding: .2rem .5rem; text-align: left; }
</style>
</head>
<body>
<h1>Notifications Manager</h1>

<fieldset>
  <legend>Editor token</legend>
  <input id="token" type="password" placeholder="X-Editor-Token">
</fieldset>

<fieldset>
  <legend>Subscribers</legend>
  <button onclick="loadSubscribers()">Refresh</button>
  <label><input id="enabledOnly" type="checkbox"> enabled only</label>
  <div id="subscribers"></div>
</fieldset>

<fieldset>
  <legend>Recent webhook events</legend>
  <button onclick="loadEvents()">Refresh</button>
  <pre id="events"></pre>
</fieldset>

<fieldset>
  <legend>Test send</legend>
  <button onclick="sendTest()">Send test notification</button>
</fieldset>

<fieldset>
  <legend>Broadcast</legend>
  <input id="bTitle" placeholder="title (max 32 chars)">
  <textarea id="bBody" rows="2" placeholder="body (max 128 chars)"></textarea>
  <input id="bTarget" placeholder="targetUrl (must be on the app origin)">
  <label><input id="bDryRun" type="checkbox" checked> dry run</label>
  <button onclick="broadcast()">Broadcast</button>
</fieldset>

<pre id="out"></pre>

<script>
function api(path, opts) {
  opts = opts || {};
  opts.headers = Object.assign({
    'X-Editor-Token': document.getElementById('token').value,
    'Content-Type': 'application/json'
  }, opts.headers || {});
  return fetch(path, opts).then(function (r) { return r.json(); });
}
function show(data) {
  document.getElementById('out').textContent = JSON.stringify(data, null, 2);
}
function loadSubscribers() {
  var q = document.getElementById('enabledOnly').checked ? '?enabled=1' : '';
  api('/api/subscribers' + q).then(function (data) {
    if (!data.ok) { show(data); return; }
    var rows = data.result.subscribers.map(function (s) {
      return '<tr><td>' + s.fid + '</td><td>' + s.token + '</td><td>' +
        (s.enabled ? 'on' : 'off') + '</td><td>' + s.updatedAt + '</td></tr>';
    }).join('');
    document.getElementById('subscribers').innerHTML =
      '<table><tr><th>fid</th><th>token</th><th>enabled</th><th>updated</th></tr>' +
      rows + '</table><p>total: ' + data.result.total + '</p>';
  });
}
function loadEvents() {
  api('/api/events').then(function (data) {
    document.getElementById('events').textContent = JSON.stringify(data, null, 2);
  });
}
function sendTest() {
  api('/api/send/test', { method: 'POST', body: '{}' }).then(show);
}
function broadcast() {
  api('/api/send/broadcast', {
    method: 'POST',
    body: JSON.stringify({
      title: document.getElementById('bTitle').value,
      body: document.getElementById('bBody').value,
      targetUrl: document.getElementById('bTarget').value,
      dryRun: document.getElementById('bDryRun').checked
    })
  }).then(show);
}
</script>
</body>
</html>
`
