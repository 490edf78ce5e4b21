package cli

var (
	NewApp      = newApp
	EnvFilePath = envFilePath
	LoadEnvFile = loadEnvFile
)
