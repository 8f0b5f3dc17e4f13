package callback

import "html/template"

type pageData struct {
	Code        string
	Description string
}

const pageStyle = `
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
            max-width: 800px;
            margin: 40px auto;
            padding: 20px;
            line-height: 1.6;
        }
        h1 { color: #2d3748; margin-bottom: 20px; font-size: 24px; }
        .success { color: #38a169; font-weight: 600; }
        .error { color: #e53e3e; font-weight: 600; }
        .section {
            border-radius: 6px;
            padding: 16px;
            margin-bottom: 16px;
        }
        .ok { background: #f7fafc; border: 1px solid #e2e8f0; }
        .failed { background: #fff5f5; border: 1px solid #feb2b2; }
        .code {
            font-family: 'Courier New', monospace;
            font-size: 14px;
            font-weight: 600;
            color: #c53030;
            margin-bottom: 8px;
        }
        .desc { font-size: 14px; color: #742a2a; }`

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Signed in</title>
    <style>` + pageStyle + `
    </style>
</head>
<body>
    <h1><span class="success">✓</span> Authorization Successful</h1>
    <div class="section ok">
        You can close this window and return to the terminal.
    </div>
</body>
</html>`))

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorization Failed</title>
    <style>` + pageStyle + `
    </style>
</head>
<body>
    <h1><span class="error">✗</span> Authorization Failed</h1>
    <div class="section failed">
        <div class="code">{{.Code}}</div>
        <div class="desc">{{.Description}}</div>
    </div>
</body>
</html>`))
