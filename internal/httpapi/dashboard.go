package httpapi

import (
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>CalSync Status</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --danger: #c2483f;
      --muted: #6f7d7d;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: var(--paper);
      min-height: 100vh;
      padding: 24px;
    }
    h1 { margin: 0 0 4px; font-size: 24px; }
    .sub { color: var(--muted); margin-bottom: 20px; }
    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 10px;
      padding: 16px;
      margin-bottom: 16px;
      max-width: 680px;
    }
    .state { font-weight: 600; color: var(--accent); }
    table { width: 100%; border-collapse: collapse; }
    td, th { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    th { color: var(--muted); font-weight: 500; }
    #log { font-family: ui-monospace, monospace; font-size: 13px; white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>CalSync</h1>
  <div class="sub">calendar reconciliation status</div>
  <div class="card">
    <div>Pipeline state: <span class="state" id="state">…</span></div>
    <table>
      <thead><tr><th>Source</th><th>Last synced</th></tr></thead>
      <tbody id="sources"></tbody>
    </table>
  </div>
  <div class="card">
    <div class="sub">recent sync cycles</div>
    <div id="log"></div>
  </div>
  <script>
    async function refresh() {
      const resp = await fetch('/v1/sync/status');
      if (!resp.ok) return;
      const status = await resp.json();
      document.getElementById('state').textContent = status.state;
      const rows = Object.entries(status.lastSynced || {})
        .map(([src, ts]) => '<tr><td>' + src + '</td><td>' + ts + '</td></tr>')
        .join('');
      document.getElementById('sources').innerHTML = rows || '<tr><td colspan="2">never synced</td></tr>';
    }
    refresh();
    setInterval(refresh, 5000);

    const proto = location.protocol === 'https:' ? 'wss' : 'ws';
    const ws = new WebSocket(proto + '://' + location.host + '/v1/sync/watch');
    ws.onmessage = (msg) => {
      const el = document.getElementById('log');
      el.textContent = msg.data + '\n' + el.textContent;
      refresh();
    };
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(dashboardHTML))
}
