package portal

import "html/template"

const layout = `<!DOCTYPE html><html><head><meta name='viewport' content='width=device-width,initial-scale=1'>
<title>{{template "title" .}}</title>
<style>body{font-family:Arial;margin:20px;background:#f0f0f0}
.container{max-width:600px;margin:auto;background:white;padding:20px;border-radius:10px;box-shadow:0 2px 5px rgba(0,0,0,0.1)}
h1{color:#333;text-align:center}button,input[type=submit]{background:#4CAF50;color:white;padding:10px 20px;border:none;border-radius:5px;cursor:pointer;width:100%;margin-top:10px}
button:hover{background:#45a049}
input[type=text],input[type=password]{width:100%;padding:10px;margin:8px 0;border:1px solid #ddd;border-radius:4px;box-sizing:border-box}
.menu{background:#333;padding:10px;border-radius:5px;margin-bottom:20px}
.menu a{color:white;text-decoration:none;padding:10px 15px;display:inline-block}
.menu a:hover{background:#555;border-radius:3px}
.wifi-list{list-style:none;padding:0}.wifi-item{background:#f9f9f9;margin:5px 0;padding:10px;border-radius:5px;cursor:pointer;border:1px solid #ddd}
.wifi-item:hover{background:#e9e9e9}
.info-row{padding:8px;border-bottom:1px solid #eee}.label{font-weight:bold;color:#666}</style></head><body>
<div class='container'>
<div class='menu'><a href='/'>WiFi Setup</a><a href='/info'>Device Info</a></div>
{{template "content" .}}
</div>{{block "script" .}}{{end}}</body></html>`

var pageSources = map[string]string{
	"root": `{{define "title"}}WiFi Setup{{end}}{{define "content"}}<h1>WiFi Setup</h1>
<p style='text-align:center'>Scan and connect to WiFi network</p>
<form action='/scan' method='get'><button type='submit'>Scan WiFi Networks</button></form>{{end}}`,

	"networks": `{{define "title"}}Available Networks{{end}}{{define "content"}}<h1>Available Networks</h1>
<p style='text-align:center;color:#666'>{{len .Networks}} networks found</p>
<ul class='wifi-list'>{{range .Networks}}
<li class='wifi-item' onclick='document.getElementById("ssid").value={{.SSID}}'>{{.SSID}} (RSSI: {{.Signal}})</li>{{end}}
</ul><h3>Connect to Network</h3>
<form action='/connect' method='get'>
SSID: <input type='text' name='ssid' id='ssid' maxlength='{{.MaxSSID}}' required><br>
Password: <input type='password' name='password' maxlength='{{.MaxPassword}}'><br>
<input type='submit' value='Connect'></form>
<form action='/scan' method='get' style='margin-top:10px'><input type='hidden' name='rescan' value='1'>
<button type='submit'>Scan Again</button></form>{{end}}`,

	"scanning": `{{define "title"}}Scanning{{end}}{{define "content"}}<h1>Scanning in Progress...</h1>
<p>Please wait, WiFi scan is already running.</p>
<form action='/scan' method='get'><button>Refresh</button></form>{{end}}`,

	"scan_failed": `{{define "title"}}Scan Failed{{end}}{{define "content"}}<h1>Scan Failed</h1>
<p>WiFi scan failed. Please try again.</p>
<form action='/scan' method='get'><button>Retry</button></form>{{end}}`,

	"no_networks": `{{define "title"}}No Networks Found{{end}}{{define "content"}}<h1>No Networks Found</h1>
<p>No WiFi networks detected. Try scanning again.</p>
<form action='/scan' method='get'><input type='hidden' name='rescan' value='1'><button>Scan Again</button></form>
<form action='/' method='get' style='margin-top:10px'><button>Back</button></form>{{end}}`,

	"connecting": `{{define "title"}}Connecting{{end}}{{define "content"}}<h1>Connecting...</h1>
<p>The device is connecting to <b>{{.SSID}}</b></p>
<p>The device will restart in {{.RestartSeconds}} seconds...</p>
<p>If connection is successful, this page will no longer be available.</p>{{end}}
{{define "script"}}<script>setTimeout(function(){window.location='/info';},5000);</script>{{end}}`,

	"try_again": `{{define "title"}}Try Again{{end}}{{define "content"}}<h1>Could not save network</h1>
<p>{{.Message}}</p>
<form action='/scan' method='get'><button>Try Again</button></form>{{end}}`,

	"info": `{{define "title"}}Device Information{{end}}{{define "content"}}<h1>Device Information</h1>
<div class='info-row'><span class='label'>MAC Address:</span> {{.MAC}}</div>
<div class='info-row'><span class='label'>IP Address:</span> {{.IP}}</div>
<div class='info-row'><span class='label'>State:</span> {{.State}}</div>
<div class='info-row'><span class='label'>Retry:</span> {{.Retry}}</div>
<div class='info-row'><span class='label'>Uptime:</span> {{.Uptime}}</div>
<div class='info-row'><span class='label'>Heap In Use:</span> {{.HeapInUse}} bytes</div>
<div class='info-row'><span class='label'>Saved SSID:</span> {{.SavedSSID}}</div>
{{if .History}}<h3>Recent Events</h3>{{range .History}}
<div class='info-row'>{{.Time.Format "2006-01-02 15:04:05"}} {{.From}} &rarr; {{.To}}{{if .Retry}} (retry {{.Retry}}){{end}}{{if .Reason}}: {{.Reason}}{{end}}</div>{{end}}{{end}}
<form action='/' method='get' style='margin-top:20px'><button>Back to WiFi Setup</button></form>{{end}}`,
}

func parsePages() map[string]*template.Template {
	base := template.Must(template.New("layout").Parse(layout))

	pages := make(map[string]*template.Template, len(pageSources))
	for name, src := range pageSources {
		pages[name] = template.Must(template.Must(base.Clone()).Parse(src))
	}

	return pages
}
