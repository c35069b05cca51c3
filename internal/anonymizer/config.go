package anonymizer

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Config selects which categories the engine redacts.
//
// Decoded configs (JSON or YAML) start from DefaultConfig, so a key that is
// absent keeps its default: every structural category on, Valores off,
// Nomes on. Enabled is false unless present, which makes a missing or empty
// settings object a no-op. A Config built as a Go literal has no such
// defaults; start from DefaultConfig() instead.
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	CNPJ          bool `json:"cnpj" yaml:"cnpj"`
	CPF           bool `json:"cpf" yaml:"cpf"`
	RG            bool `json:"rg" yaml:"rg"`
	PIS           bool `json:"pis" yaml:"pis"`
	CTPS          bool `json:"ctps" yaml:"ctps"`
	CEP           bool `json:"cep" yaml:"cep"`
	Processo      bool `json:"processo" yaml:"processo"`
	OAB           bool `json:"oab" yaml:"oab"`
	Telefone      bool `json:"telefone" yaml:"telefone"`
	Email         bool `json:"email" yaml:"email"`
	ContaBancaria bool `json:"contaBancaria" yaml:"contaBancaria"`

	// Valores redacts currency amounts. Opt-in.
	Valores bool `json:"valores" yaml:"valores"`

	// Nomes gates the name pass. The names actually redacted are the ones
	// passed to Anonymize; NomesUsuario is what the settings UI stored.
	Nomes        bool     `json:"nomes" yaml:"nomes"`
	NomesUsuario []string `json:"nomesUsuario" yaml:"nomesUsuario"`
}

// DefaultConfig returns the settings a fresh install starts with. The engine
// itself is still off until Enabled is set.
func DefaultConfig() Config {
	return Config{
		CNPJ:          true,
		CPF:           true,
		RG:            true,
		PIS:           true,
		CTPS:          true,
		CEP:           true,
		Processo:      true,
		OAB:           true,
		Telefone:      true,
		Email:         true,
		ContaBancaria: true,
		Nomes:         true,
		NomesUsuario:  []string{},
	}
}

// plainConfig has Config's fields without its decoding methods.
type plainConfig Config

// UnmarshalJSON decodes onto DefaultConfig so absent keys keep their defaults.
func (c *Config) UnmarshalJSON(data []byte) error {
	p := plainConfig(DefaultConfig())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// UnmarshalYAML decodes onto DefaultConfig so absent keys keep their defaults.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	p := plainConfig(DefaultConfig())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// active reports whether the category's rule should be scanned at all.
func (c *Config) active(cat Category) bool {
	if c == nil || !c.Enabled {
		return false
	}
	switch cat {
	case CategoryProcesso:
		return c.Processo
	case CategoryCNPJ:
		return c.CNPJ
	case CategoryCPF:
		return c.CPF
	case CategoryPIS:
		return c.PIS
	case CategoryCTPS:
		return c.CTPS
	case CategoryRG:
		return c.RG
	case CategoryCEP:
		return c.CEP
	case CategoryOAB:
		return c.OAB
	case CategoryTelefone:
		return c.Telefone
	case CategoryEmail:
		return c.Email
	case CategoryConta:
		return c.ContaBancaria
	case CategoryValor:
		return c.Valores
	}
	return false
}
