package cli

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"gopkg.in/yaml.v3"
)

var botFileName = regexp.MustCompile(`^[a-zA-Z0-9_]+\.ya?ml$`)

// botFile is the YAML descriptor of one bot
type botFile struct {
	BotName           string `yaml:"bot_name"`
	Reaction          string `yaml:"reaction"`
	UserID            string `yaml:"user_id"`
	TokenEnv          string `yaml:"token_env"`
	ReadPin           bool   `yaml:"read_pin"`
	MemoryChannelID   string `yaml:"memory_channel_id"`
	MemoryChannelName string `yaml:"memory_channel_name"`
	SystemMessageFile string `yaml:"system_message_file"`
	Model             string `yaml:"model"`
}

// LoadBots reads every bot descriptor in dir in file name order. Files whose
// names are not plain identifiers with a .yml or .yaml extension are ignored.
// Access tokens are looked up with getenv by the name in token_env.
func LoadBots(dir string, getenv func(string) string) ([]*model.Bot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read bots directory", goerr.V("dir", dir))
	}

	var bots []*model.Bot
	names := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !botFileName.MatchString(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		bot, err := loadBot(path, getenv)
		if err != nil {
			return nil, err
		}
		if prev, ok := names[bot.Name]; ok {
			return nil, goerr.New("duplicated bot name",
				goerr.V("bot", bot.Name), goerr.V("path", path), goerr.V("previous", prev))
		}
		names[bot.Name] = path
		bots = append(bots, bot)
	}

	return bots, nil
}

func loadBot(path string, getenv func(string) string) (*model.Bot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read bot file", goerr.V("path", path))
	}

	var file botFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse bot file", goerr.V("path", path))
	}

	if file.SystemMessageFile == "" {
		return nil, goerr.New("system_message_file is required", goerr.V("path", path))
	}
	templatePath := file.SystemMessageFile
	if !filepath.IsAbs(templatePath) {
		templatePath = filepath.Join(filepath.Dir(path), templatePath)
	}
	tmpl, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read system message file",
			goerr.V("path", path), goerr.V("template", templatePath))
	}

	var token string
	if file.TokenEnv != "" {
		token = getenv(file.TokenEnv)
	}

	bot := &model.Bot{
		Name:              file.BotName,
		Reaction:          file.Reaction,
		UserID:            model.UserID(file.UserID),
		Token:             token,
		ReadPin:           file.ReadPin,
		Model:             file.Model,
		MemoryChannelID:   model.ChannelID(file.MemoryChannelID),
		MemoryChannelName: file.MemoryChannelName,
		SystemMessage:     string(tmpl),
	}
	if err := bot.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid bot file", goerr.V("path", path), goerr.V("token_env", file.TokenEnv))
	}
	return bot, nil
}
