package server

// chatPage is the browser client served on GET / without an Upgrade header.
// Message bodies arrive as server-rendered markup and are inserted as HTML.
const chatPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Media Chat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 400px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .line { margin: 5px 0; padding: 3px; }
        .time { color: #888; margin-right: 6px; }
        .system { color: gray; font-style: italic; }
        .small_image img { cursor: pointer; }
        .youtube_video { max-width: 560px; }
        .embed-responsive { position: relative; padding-bottom: 56.25%; height: 0; }
        .embed-responsive-item { position: absolute; top: 0; left: 0; width: 100%; height: 100%; border: 0; }
        #overlay { display: none; position: fixed; inset: 0; background: rgba(0,0,0,.8); text-align: center; }
        #overlay img { max-width: 90%; max-height: 90%; margin-top: 2%; }
    </style>
</head>
<body>
    <h1>Media Chat</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="nameInput" placeholder="Choose a username...">
        <button id="connectButton" onclick="toggleConnection()">Join</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button onclick="loadHistory()">Older</button>
    </div>

    <div id="messages"></div>
    <div id="overlay" onclick="this.style.display='none'"><a id="overlayLink" target="_blank"><img id="overlayImage"></a></div>

    <script>
        let ws = null;
        let loaded = 0;
        const pageSize = 20;
        const messagesDiv = document.getElementById('messages');
        const nameInput = document.getElementById('nameInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function text(s) {
            const span = document.createElement('span');
            span.textContent = s;
            return span;
        }

        function lineFor(time, user, markup) {
            const line = document.createElement('div');
            line.className = user === 'SERVER' ? 'line system' : 'line';
            const stamp = text(time);
            stamp.className = 'time';
            line.appendChild(stamp);
            const who = document.createElement('strong');
            who.textContent = user + ': ';
            line.appendChild(who);
            const body = document.createElement('span');
            body.innerHTML = markup;
            line.appendChild(body);
            return line;
        }

        function addFrame(frame) {
            messagesDiv.appendChild(lineFor(frame.time, frame.user, frame.message));
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function show_image(original, embed) {
            document.getElementById('overlayImage').src = embed;
            document.getElementById('overlayLink').href = original;
            document.getElementById('overlay').style.display = 'block';
        }

        function loadHistory() {
            fetch('/get_history/' + pageSize + '/' + loaded)
                .then(function(r) { return r.json(); })
                .then(function(entries) {
                    for (let i = entries.length - 1; i >= 0; i--) {
                        const e = entries[i];
                        messagesDiv.insertBefore(lineFor(e[0], e[1], e[2]), messagesDiv.firstChild);
                    }
                    loaded += entries.length;
                });
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = connected ? 'status connected' : 'status disconnected';
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            nameInput.disabled = connected;
            connectButton.textContent = connected ? 'Leave' : 'Join';
        }

        function connect() {
            const name = nameInput.value.trim();
            if (!name) {
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/');

            ws.onopen = function() {
                ws.send(name);
                updateStatus(true);
            };
            ws.onmessage = function(event) {
                addFrame(JSON.parse(event.data));
            };
            ws.onclose = function() {
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value;
            if (message.trim() && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(message);
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });

        loadHistory();
    </script>
</body>
</html>`
