package constants

// DefaultEnvPath is the default path to the .env file
const DefaultEnvPath = "./.env"

// DefaultConfigPath is the default path to the config.toml file
const DefaultConfigPath = "./config.toml"

// PIDFileName is the pid file name used when scheduler.pid_file is a directory
const PIDFileName = ".autotask.pid"
