package email

const emailStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2f7d5b; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #2f7d5b; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .reason { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }`

const assignmentEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New {{.Kind}} assigned</title>
    <style>` + emailStyle + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <p>{{.ActorName}} assigned you the {{.Kind}} <strong>{{.Title}}</strong>.</p>
    {{if .URL}}
    <p>
        <a href="{{.URL}}" class="button">Open {{.Kind}}</a>
    </p>
    {{end}}
    <div class="footer">
        <p>You receive this email because work was assigned to you in {{.AppName}}.</p>
    </div>
</body>
</html>`

const submissionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Milestone submitted</title>
    <style>` + emailStyle + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>{{.ActorName}} submitted the milestone <strong>{{.Title}}</strong> for review.</p>

    <p>Verify or reject it to close the milestone.</p>
    {{if .URL}}
    <p>
        <a href="{{.URL}}" class="button">Review milestone</a>
    </p>
    {{end}}
    <div class="footer">
        <p>You receive this email because you are an administrator in {{.AppName}}.</p>
    </div>
</body>
</html>`

const verdictEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Milestone {{.Status}}</title>
    <style>` + emailStyle + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <p>{{.ActorName}} marked the milestone <strong>{{.Title}}</strong> as {{.Status}}.</p>
    {{if .Reason}}
    <div class="reason">
        <strong>Reason:</strong> {{.Reason}}
    </div>
    {{end}}{{if .URL}}
    <p>
        <a href="{{.URL}}" class="button">Open milestone</a>
    </p>
    {{end}}
    <div class="footer">
        <p>You receive this email because you lead the team that owns this milestone.</p>
    </div>
</body>
</html>`
