package redis

import "fmt"

const ns = "cinebook:v1"

func KeyScreening(screeningID int64) string {
	return fmt.Sprintf("%s:screening:%d", ns, screeningID)
}

func KeyTicketCatalog() string {
	return ns + ":ticket-types"
}

func KeySession(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", ns, sessionID)
}

func KeyIdemSubmit(sessionID, idemKey string) string {
	return fmt.Sprintf("%s:idem:submit:%s:%s", ns, sessionID, idemKey)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelScreeningsChanged() string {
	return ns + ":screenings:changed"
}
