package notification

import (
	"fmt"
	"time"

	"finnect-auth/internal/config"
	"finnect-auth/internal/util"
)

const otpEmailHTML = `<html>
<body>
<p>Hello,</p>
<p>Your one-time verification code for %s is:</p>
<h2>%s</h2>
<p>This code expires in %d seconds. If you did not request it, please ignore this email.</p>
<p>%s</p>
</body>
</html>`

const otpEmailText = `Hello,

Your one-time verification code for %s is: %s

This code expires in %d seconds. If you did not request it, please ignore this email.

%s`

const accountBlockedHTML = `<html>
<body>
<p>Hello,</p>
<p>Your %s account has been temporarily blocked after repeated failed sign-in attempts.</p>
<p>You can try again in %d minute(s). If this was not you, please contact support immediately.</p>
<p>%s</p>
</body>
</html>`

const accountBlockedText = `Hello,

Your %s account has been temporarily blocked after repeated failed sign-in attempts.

You can try again in %d minute(s). If this was not you, please contact support immediately.

%s`

// EmailNotifier sends the authentication flow emails. Delivery is
// best effort: failures are logged and returned, callers decide
// whether to block on them.
type EmailNotifier struct {
	sender        Sender
	siteName      string
	otpExpiration time.Duration
	lockout       time.Duration
}

func NewEmailNotifier(cfg *config.Config, sender Sender) *EmailNotifier {
	return &EmailNotifier{
		sender:        sender,
		siteName:      cfg.SMTP.SiteName,
		otpExpiration: cfg.Auth.OTPExpiration,
		lockout:       cfg.Auth.LockoutDuration,
	}
}

func (n *EmailNotifier) SendOTPEmail(email, code string) error {
	subject := "Your OTP code"
	seconds := int(n.otpExpiration.Seconds())
	html := fmt.Sprintf(otpEmailHTML, n.siteName, code, seconds, n.siteName)
	text := fmt.Sprintf(otpEmailText, n.siteName, code, seconds, n.siteName)

	if err := n.sender.Send(email, subject, html, text); err != nil {
		util.Error("failed to send OTP email",
			util.String("email", email),
			util.ErrorField(err),
		)
		return err
	}

	util.Info("OTP email sent", util.String("email", email))
	return nil
}

func (n *EmailNotifier) SendAccountBlockedEmail(email string) error {
	subject := "Your account has been blocked"
	minutes := int(n.lockout.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	html := fmt.Sprintf(accountBlockedHTML, n.siteName, minutes, n.siteName)
	text := fmt.Sprintf(accountBlockedText, n.siteName, minutes, n.siteName)

	if err := n.sender.Send(email, subject, html, text); err != nil {
		util.Error("failed to send account blocked email",
			util.String("email", email),
			util.ErrorField(err),
		)
		return err
	}

	util.Info("account blocked email sent", util.String("email", email))
	return nil
}
