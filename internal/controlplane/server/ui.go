package server

import (
	"net/http"
)

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(uiHTML))
}

func handlePlaceholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write([]byte(placeholderSVG))
}

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="64" height="64" viewBox="0 0 64 64">
  <rect width="64" height="64" rx="12" fill="#e5e7eb"/>
  <circle cx="32" cy="26" r="10" fill="#9ca3af"/>
  <rect x="16" y="42" width="32" height="10" rx="5" fill="#9ca3af"/>
</svg>`

const uiHTML = `<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>botdash</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Arial; margin: 0; }
    .wrap { display: grid; grid-template-columns: 340px 1fr; height: 100vh; }
    .left { border-right: 1px solid #eee; padding: 12px; overflow:auto; }
    .right { padding: 12px; overflow:auto; }
    .bot { display:flex; gap:8px; align-items:center; padding: 8px; border: 1px solid #eee; border-radius: 8px; margin-bottom: 8px; cursor: pointer; }
    .bot:hover { background: #fafafa; }
    .bot img { width: 32px; height: 32px; border-radius: 6px; object-fit: cover; }
    .banner { display:none; background:#fff4e5; border-bottom:1px solid #f5c16c; padding:8px 12px; }
    .banner.show { display:block; }
    .row { display:flex; gap: 8px; align-items:center; flex-wrap: wrap; margin-bottom: 8px; }
    .muted { color:#666; font-size: 12px; }
    #notices div { font-size: 12px; padding: 4px 8px; border-radius: 4px; margin-bottom: 4px; }
    .info { background:#eef6ff; } .warn { background:#fff4e5; } .error { background:#fdecec; }
    .preview { width: 240px; height: 120px; border-radius: 8px; display:flex; align-items:flex-end; padding: 8px; color:#fff; }
  </style>
</head>
<body>
<div id="banner" class="banner">
  无法连接后端 <span id="backendURL" class="muted"></span>
  <button onclick="retryConnectivity()">重试</button>
</div>
<div class="wrap">
  <div class="left">
    <div class="row">
      <h3 style="margin:0">Bots</h3>
      <button onclick="refreshBots()">刷新</button>
      <span id="status" class="muted"></span>
    </div>
    <div id="bots"></div>
    <hr/>
    <h3>创建 Bot</h3>
    <div class="row"><input id="newName" placeholder="名称" style="width:100%"/></div>
    <div class="row"><input id="newKey" placeholder="API Key" type="password" style="width:100%"/></div>
    <button onclick="createBot()">创建</button>
    <hr/>
    <div id="notices"></div>
  </div>
  <div class="right">
    <h3 style="margin-top:0">Bot 详情</h3>
    <div id="detail" class="muted">请选择左侧 bot</div>
  </div>
</div>
<script>
let snapshot = { bots: [], loading: true, refreshing: false };
let selected = null;

async function api(method, path, body, isForm) {
  const opts = { method, headers: {} };
  if (body !== undefined) {
    if (isForm) { opts.body = body; }
    else { opts.headers['Content-Type'] = 'application/json'; opts.body = JSON.stringify(body); }
  }
  const res = await fetch(path, opts);
  if (res.status === 204) return null;
  const data = await res.json().catch(() => ({}));
  if (!res.ok) throw new Error(data.error || res.statusText);
  return data;
}

function notice(level, message) {
  const el = document.createElement('div');
  el.className = level;
  el.textContent = new Date().toLocaleTimeString() + ' ' + message;
  const box = document.getElementById('notices');
  box.prepend(el);
  while (box.children.length > 20) box.removeChild(box.lastChild);
}

function esc(s) {
  return String(s ?? '').replace(/[&<>"']/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'}[c]));
}

function render() {
  document.getElementById('status').textContent =
    snapshot.loading ? '加载中…' : (snapshot.refreshing ? '刷新中…' : (snapshot.bots.length + ' 个'));
  const list = document.getElementById('bots');
  list.innerHTML = snapshot.bots.map(b =>
    '<div class="bot" onclick="selectBot(\'' + esc(b.code) + '\')">' +
    '<img src="' + esc(b.chatIcon || '/placeholder.svg') + '"/>' +
    '<div><div>' + esc(b.name) + '</div><div class="muted">' + esc(b.code) + '</div></div></div>').join('');
  renderDetail();
}

function renderDetail() {
  const el = document.getElementById('detail');
  const b = snapshot.bots.find(x => x.code === selected);
  if (!b) { el.className = 'muted'; el.textContent = '请选择左侧 bot'; return; }
  el.className = '';
  const gradient = b.chatGradient || 'linear-gradient(135deg, #667eea 0%, #764ba2 100%)';
  el.innerHTML =
    '<div class="row"><b>' + esc(b.name) + '</b> <a href="' + esc(b.url) + '" target="_blank">打开聊天</a>' +
    '<button onclick="deleteBot()">删除</button></div>' +
    '<div class="preview" style="background:' + esc(gradient) + '">' + esc(b.chatboxText || 'Hi! How can I help you today?') + '</div>' +
    '<h4>文本</h4>' +
    '<div class="row"><input id="chatboxText" style="width:360px" value="' + esc(b.chatboxText || '') + '"/>' +
    '<button onclick="saveText(\'chatboxText\')">保存欢迎语</button></div>' +
    '<div class="row"><input id="chatGradient" style="width:360px" value="' + esc(b.chatGradient || '') + '"/>' +
    '<button onclick="saveText(\'chatGradient\')">保存渐变</button></div>' +
    '<h4>图片</h4>' +
    ['chatIcon', 'botIcon', 'backgroundImage', 'headerImage'].map(k =>
      '<div class="row"><img src="' + esc(b[k] || '/placeholder.svg') + '" style="width:48px;height:48px;object-fit:cover;border-radius:6px"/>' +
      '<span style="width:140px">' + k + '</span><input type="file" accept="image/*" id="file-' + k + '"/>' +
      '<button onclick="uploadImage(\'' + k + '\')">上传</button></div>').join('');
}

function selectBot(code) { selected = code; renderDetail(); }

async function refreshBots() {
  try { snapshot = await api('POST', '/api/refresh'); render(); }
  catch (e) { notice('error', e.message); }
}

async function createBot() {
  const name = document.getElementById('newName').value;
  const apiKey = document.getElementById('newKey').value;
  try {
    const b = await api('POST', '/api/bots', { name, apiKey });
    selected = b.code;
    document.getElementById('newName').value = '';
    document.getElementById('newKey').value = '';
    notice('info', '已创建 ' + b.name);
  } catch (e) { notice('error', e.message); }
}

async function deleteBot() {
  const b = snapshot.bots.find(x => x.code === selected);
  if (!b || !confirm('删除 ' + b.name + '?')) return;
  try { await api('DELETE', '/api/bots/' + encodeURIComponent(b.code) + '?name=' + encodeURIComponent(b.name)); selected = null; }
  catch (e) { notice('error', e.message); }
}

async function saveText(kind) {
  const text = document.getElementById(kind).value;
  try { await api('PUT', '/api/bots/' + encodeURIComponent(selected) + '/texts/' + kind, { text }); notice('info', kind + ' 已保存'); }
  catch (e) { notice('error', e.message); }
}

async function uploadImage(kind) {
  const input = document.getElementById('file-' + kind);
  if (!input.files.length) return;
  const form = new FormData();
  form.append('file', input.files[0]);
  try { await api('PUT', '/api/bots/' + encodeURIComponent(selected) + '/images/' + kind, form, true); notice('info', kind + ' 已上传'); }
  catch (e) { notice('error', e.message); }
}

async function checkConnectivity(retry) {
  try {
    const res = await api(retry ? 'POST' : 'GET', retry ? '/api/connectivity/retry' : '/api/connectivity');
    document.getElementById('banner').classList.toggle('show', !res.success);
    document.getElementById('backendURL').textContent = res.backend_url;
  } catch (e) { /* 探测未配置 */ }
}
function retryConnectivity() { checkConnectivity(true); }

function connect() {
  const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/ws');
  ws.onmessage = ev => {
    const msg = JSON.parse(ev.data);
    if (msg.type === 'snapshot') { snapshot = msg.snapshot; render(); }
    if (msg.type === 'notice') { notice(msg.notice.level, msg.notice.message); }
  };
  ws.onclose = () => setTimeout(connect, 2000);
}

connect();
checkConnectivity(false);
</script>
</body>
</html>
`
