package web

import (
	"fmt"
	"net/http"
)

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>fxdesk</title>
<style>
body { font-family: -apple-system, sans-serif; background: #0f1115; color: #e6e6e6; margin: 2rem; }
h1 { font-size: 1.2rem; }
table { border-collapse: collapse; margin-bottom: 1.5rem; }
td, th { padding: .3rem .8rem; border-bottom: 1px solid #2a2e36; text-align: left; }
.muted { color: #8a8f98; }
</style>
</head>
<body>
<h1>fxdesk</h1>
<h2>Balances <span id="ts" class="muted"></span></h2>
<table id="balances"><tr><td class="muted">loading...</td></tr></table>
<h2>Recent transactions</h2>
<table id="jobs"><tr><td class="muted">loading transactions...</td></tr></table>
<script>
const symbols = {USD: "$", EUR: "€", GBP: "£", CAD: "$", JPY: "¥"};
function fill(id, rows, muted) {
  const t = document.getElementById(id);
  t.replaceChildren(...rows.map(cells => {
    const tr = document.createElement("tr");
    for (const c of cells) {
      const td = document.createElement("td");
      td.textContent = String(c);
      if (muted) td.className = "muted";
      tr.appendChild(td);
    }
    return tr;
  }));
}
function renderAccounts(accounts) {
  if (!accounts || accounts.length === 0) { fill("balances", [["no accounts"]], true); return; }
  fill("balances", accounts.map(a => [a.currency, (symbols[a.currency] || "") + a.balance]));
}
function renderJobs(jobs) {
  if (!jobs || jobs.length === 0) { fill("jobs", [["no transactions yet"]], true); return; }
  fill("jobs", jobs.map(j => [j.source_currency + " → " + j.target_currency, j.source_amount, j.status]));
}
fetch("/api/balance").then(r => r.json()).then(d => d.error ? Promise.reject(d.error) : renderAccounts(d.accounts))
  .catch(e => fill("balances", [[e]]));
fetch("/api/transactions").then(r => r.json()).then(d => d.error ? Promise.reject(d.error) : renderJobs(d.jobs))
  .catch(e => fill("jobs", [[e]]));
const es = new EventSource("/api/balance/stream");
es.addEventListener("balance", ev => {
  const snap = JSON.parse(ev.data);
  document.getElementById("ts").textContent = new Date(snap.ts).toLocaleTimeString();
  renderAccounts(snap.accounts);
});
</script>
</body>
</html>
`
