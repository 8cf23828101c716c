package tracepulse

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HttpHandler returns a handler rendering the producer's status: the control
// connection state and the populated tracing sessions. POSTs can disconnect
// the producer or point it at a different controller.
func HttpHandler() http.Handler {
	return httpHandler{}
}

type httpHandler struct{}

func (h httpHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// GETs render the current state of the producer.
	if req.Method == http.MethodGet {
		h.handleGet(w)
		return
	}

	if err := req.ParseForm(); err != nil {
		singletonConn.ActiveConfig.ErrorLogger(fmt.Errorf("failed to parse form: %w", err))
		return
	}

	if _, ok := req.Form["disconnect"]; ok {
		Stop()
		h.handleGet(w)
		return
	}

	if _, ok := req.Form["connect"]; !ok {
		singletonConn.ActiveConfig.ErrorLogger(fmt.Errorf("invalid POST: missing connect/disconnect"))
		return
	}

	// Connect (or re-connect) with the new controller.

	controllerURL, ok := req.Form["controller"]
	if !ok {
		singletonConn.ActiveConfig.ErrorLogger(fmt.Errorf("invalid POST: missing controller"))
		return
	}

	// If there was a prior connection, close it.
	Stop()

	if controllerURL[0] != "" {
		err := Init(context.Background(), WithControllerURL(controllerURL[0]))
		if err != nil {
			singletonConn.ActiveConfig.ErrorLogger(fmt.Errorf("failed to update config: %w", err))
		}
		// Wait a little bit for the connection to be established before
		// rendering the page.
		timeout := time.Now().Add(time.Second)
		for {
			if time.Now().After(timeout) {
				break
			}
			if Status() != Connecting {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	h.handleGet(w)
}

func (h httpHandler) handleGet(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)

	var statusStr, color string
	switch Status() {
	case Connected:
		statusStr = "connected"
		color = "green"
	case Connecting:
		statusStr = "connecting"
		color = "red"
	default:
		statusStr = "disconnected"
		color = "red"
	}

	sb := strings.Builder{}
	sb.WriteString(`<html>
<head>
	<title>TracePulse producer</title>
	<style>
	.circle {
		height: 21px;
		width: 21px;
		border-radius: 50%;
		display: inline-block;
	}
	</style>
</head>
<body>
<h1>TracePulse producer</h1>
<form action="" method="POST">
<div style="
	display:grid;
	gap:3px;
	grid-template-columns: 9em 20em;
	margin-bottom: 10px;"
	>
`)
	sb.WriteString(fmt.Sprintf(`
<div>Connection status:</div>
<div style="display:flex; flex-direction:row; align-items:center; gap:3px">
	<div class="circle" style="background-color:%s;"></div>
	<span>%s</span>
</div>`, color, statusStr))
	sb.WriteString("<div>Controller:</div>")
	sb.WriteString(fmt.Sprintf(`<input type="text" name="controller" value="%s"/>`,
		singletonConn.ActiveConfig.ControllerURL))
	sb.WriteString("<div>Producer name:</div>")
	sb.WriteString(fmt.Sprintf("<div>%s</div>", singletonConn.ActiveConfig.ProducerName))

	disconnectAttribute := ""
	if Status() != Connected && Status() != Connecting {
		disconnectAttribute = "disabled"
	}

	sb.WriteString(fmt.Sprintf(`
</div>
<input type="submit" value="Reconnect" name="connect"/>
<input type="submit" value="Disconnect" name="disconnect" %s/>
</form>
`, disconnectAttribute))

	sb.WriteString("<h2>Sessions</h2>\n<table border=1>")
	sb.WriteString("<tr><th>instance</th><th>state</th><th>period</th><th>counters</th></tr>")
	for _, e := range singletonConn.Instances() {
		state := "stopped"
		if e.Active {
			state = "active"
		}
		period := "default"
		if e.Config.Period != 0 {
			period = e.Config.Period.String()
		}
		counters := "default"
		if len(e.Config.CounterIDs) > 0 {
			counters = fmt.Sprintf("%v", e.Config.CounterIDs)
		}
		sb.WriteString(fmt.Sprintf("<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			e.ID, state, period, counters))
	}
	sb.WriteString("</table>\n</body>\n</html>")

	if _, err := w.Write([]byte(sb.String())); err != nil {
		singletonConn.ActiveConfig.ErrorLogger(fmt.Errorf("failed to write response: %w", err))
	}
}
