package web

import "html/template"

// loginPage and chatPage are intentionally small, dependency-free pages:
// this channel serves one chat UI, not a built single-page app, so there
// is no frontend build step or asset pipeline to embed here.
var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>caduceus</title></head>
<body>
<h1>caduceus</h1>
{{if .Error}}<p style="color:red">{{.Error}}</p>{{end}}
<form method="post" action="/login">
  <input type="text" name="username" placeholder="username" autofocus required>
  <input type="password" name="password" placeholder="password" required>
  <button type="submit">log in</button>
</form>
</body>
</html>`))

var chatPage = template.Must(template.New("chat").Parse(`<!DOCTYPE html>
<html>
<head><title>caduceus</title></head>
<body>
<div id="log"></div>
<form id="send-form">
  <input type="text" id="content" autofocus autocomplete="off">
  <button type="submit">send</button>
</form>
<a href="/logout">log out</a>
<script>
const log = document.getElementById("log");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
function append(line) {
  const p = document.createElement("p");
  p.textContent = line;
  log.appendChild(p);
  window.scrollTo(0, document.body.scrollHeight);
}
ws.onmessage = (ev) => {
  const msg = JSON.parse(ev.data);
  append("[" + msg.type + "] " + msg.content);
};
ws.onclose = () => append("[system] connection closed");
document.getElementById("send-form").addEventListener("submit", (ev) => {
  ev.preventDefault();
  const input = document.getElementById("content");
  if (!input.value) return;
  ws.send(JSON.stringify({content: input.value}));
  append("[you] " + input.value);
  input.value = "";
});
</script>
</body>
</html>`))
