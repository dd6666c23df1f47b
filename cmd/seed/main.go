package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/logger"
	"github.com/hackgods/consul-visit-booker/internal/perception"
	redisclient "github.com/hackgods/consul-visit-booker/internal/redis"
	"github.com/hackgods/consul-visit-booker/internal/slots"
)

var consulates = map[string][]string{
	"Польща":     {"Варшава", "Краків", "Люблін", "Гданськ"},
	"Німеччина":  {"Берлін", "Мюнхен", "Гамбург"},
	"Чехія":      {"Прага", "Брно"},
	"Португалія": {"Лісабон"},
}

var services = []string{
	"Оформлення паспорта громадянина України для виїзду за кордон",
	"Оформлення паспорта громадянина України у формі ID-картки",
	"Постановка на консульський облік",
	"Вчинення нотаріальних дій",
}

func main() {
	var (
		count    = flag.Int("n", 10, "number of identities to generate")
		usersDir = flag.String("users", "data/users", "directory for identity YAML files")
		keysDir  = flag.String("keys", "data/keys", "directory for placeholder key files")
		seed     = flag.Uint64("seed", 0, "faker seed, 0 for random")
		hints    = flag.Bool("slots", false, "also push random free week hints into Redis (REDIS_ADDR)")
	)
	flag.Parse()

	log := logger.New("dev", "info")
	log.Info().Int("count", *count).Msg("seed starting")

	key := os.Getenv("FERNET_SECRET_KEY")
	if key == "" {
		log.Fatal().Msg("FERNET_SECRET_KEY is required")
	}

	f := gofakeit.New(*seed)
	files, err := writeIdentities(f, *count, *usersDir, *keysDir, key)
	if err != nil {
		log.Fatal().Err(err).Msg("seed identities")
	}
	log.Info().Int("written", len(files)).Str("dir", *usersDir).Msg("identities seeded")

	if *hints {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		reg, closeRedis, err := connectRegistry(ctx, log)
		if err != nil {
			cancel()
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer closeRedis()

		n, err := seedHints(ctx, f, files, reg, time.Now())
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("seed slot hints")
		}
		log.Info().Int("hints", n).Msg("slot hints seeded")
	}
	log.Info().Msg("seed complete")
}

// fake builds one identity record. i keeps aliases unique.
func fake(f *gofakeit.Faker, i int, key string) (identity.File, string, error) {
	alias := fmt.Sprintf("%s_%03d", strings.ToLower(f.Username()), i)
	alias = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return -1
	}, alias)

	password, err := identity.Encrypt(f.Password(true, true, true, false, false, 12), key)
	if err != nil {
		return identity.File{}, "", err
	}

	countries := make([]string, 0, len(consulates))
	for c := range consulates {
		countries = append(countries, c)
	}
	sort.Strings(countries)
	country := f.RandomString(countries)
	options := consulates[country]

	picked := []string{f.RandomString(options)}
	if len(options) > 1 && f.Bool() {
		for _, c := range options {
			if c != picked[0] {
				picked = append(picked, c)
				break
			}
		}
	}

	birth := f.DateRange(time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2005, 12, 31, 0, 0, 0, 0, time.UTC))
	forMyself := f.Number(0, 9) > 1
	days := f.Number(0, 30)

	rec := identity.File{
		Alias:       alias,
		KeyPath:     alias + ".jks",
		KeyPassword: password,
		Birthdate:   birth.Format("2006-01-02"),
		Gender:      f.RandomString([]string{string(identity.GenderMale), string(identity.GenderFemale)}),
		Country:     country,
		Consulates:  picked,
		Services:    []string{f.RandomString(services)},
		ForMyself:   &forMyself,
		DaysFromNow: &days,
	}
	return rec, alias, nil
}

func writeIdentities(f *gofakeit.Faker, count int, usersDir, keysDir, key string) ([]identity.File, error) {
	for _, dir := range []string{usersDir, keysDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	out := make([]identity.File, 0, count)
	for i := 0; i < count; i++ {
		rec, alias, err := fake(f, i, key)
		if err != nil {
			return nil, err
		}
		data, err := yaml.Marshal(rec)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(usersDir, alias+".yaml"), data, 0o600); err != nil {
			return nil, err
		}
		keyFile := filepath.Join(keysDir, rec.KeyPath)
		if err := os.WriteFile(keyFile, []byte("placeholder key for "+alias+"\n"), 0o600); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func connectRegistry(ctx context.Context, log zerolog.Logger) (*slots.RedisRegistry, func() error, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil, nil, fmt.Errorf("REDIS_ADDR is required with -slots")
	}
	rdb, err := redisclient.Connect(ctx, redisclient.Options{
		Addr:     addr,
		Username: os.Getenv("REDIS_USERNAME"),
		Password: os.Getenv("REDIS_PASSWORD"),
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return slots.NewRedisRegistry(rdb), rdb.Close, nil
}

// seedHints marks a random upcoming week as free for about a third of the
// generated identities so prioritisation can be observed.
func seedHints(ctx context.Context, f *gofakeit.Faker, files []identity.File, reg slots.Registry, now time.Time) (int, error) {
	monday := identity.DateOf(now)
	for monday.Weekday() != time.Monday {
		monday = monday.AddDate(0, 0, -1)
	}

	added := 0
	for _, rec := range files {
		if f.Number(0, 2) != 0 {
			continue
		}
		week := monday.AddDate(0, 0, 7*f.Number(1, 8)).Format(perception.DateLayout)
		if err := reg.Add(ctx, rec.Country, rec.Consulates[0], rec.Services[0], week); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
