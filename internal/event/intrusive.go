package event

// Constructors for intrusive events: incoming communication and weather
// alerts that may interrupt the user. Priorities follow the product
// rules: calls are always high, SMS/email escalate only when urgent.

func WhatsAppCall(caller string, video bool) Event {
	return New(TypeWhatsAppCall, PriorityHigh, "whatsapp", Payload{
		"caller": caller,
		"video":  video,
	})
}

func PhoneCall(caller string) Event {
	return New(TypePhoneCall, PriorityHigh, "phone", Payload{
		"caller": caller,
	})
}

func SMSReceived(sender, message string, urgent bool) Event {
	p := PriorityMedium
	if urgent {
		p = PriorityHigh
	}
	return New(TypeSMSReceived, p, "sms", Payload{
		"sender":  sender,
		"message": message,
		"urgent":  urgent,
	})
}

func EmailReceived(sender, subject string, urgent bool) Event {
	p := PriorityLow
	if urgent {
		p = PriorityHigh
	}
	return New(TypeEmailReceived, p, "email", Payload{
		"sender":  sender,
		"subject": subject,
		"urgent":  urgent,
	})
}

// WeatherAlert maps severity (1-3) to priority: 3+ critical, 2 high,
// otherwise medium.
func WeatherAlert(alertType, description string, severity int) Event {
	p := PriorityMedium
	switch {
	case severity >= 3:
		p = PriorityCritical
	case severity == 2:
		p = PriorityHigh
	}
	return New(TypeWeatherAlert, p, "weather_service", Payload{
		"alert_type":  alertType,
		"description": description,
		"severity":    severity,
	})
}
