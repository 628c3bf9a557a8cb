package rate

const challengePrefix = "mlc:"

func challengeKey(tenant, username string) string {
	return challengePrefix + tenant + ":" + username
}
