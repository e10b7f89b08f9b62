// internal/comment/comment.go
package comment

import (
	"math/rand"
	"time"
)

type TimeOfDay int

const (
	Midday TimeOfDay = iota
	Morning
	Evening
)

// Pools are the fixed reply phrases. Every pool must be non-empty.
type Pools struct {
	Special  []string
	Ordinary []string
	Morning  []string
	Evening  []string
}

var DefaultPools = Pools{
	Special: []string{
		"Праздник живота засчитан 🎉",
		"Ну это было заслуженно, наслаждайся 😎",
		"Иногда можно, и сегодня как раз такой день 🍰",
		"Эпично! Запишем в летопись 📜",
		"Гулять так гулять 🥂",
	},
	Ordinary: []string{
		"Записал 👍",
		"Отличный выбор, так держать 💪",
		"Всё учтено ✅",
		"Хороший, сбалансированный приём пищи 🥗",
		"Принято, продолжаем в том же духе 🙂",
	},
	Morning: []string{
		"Хорошее начало дня ☀️",
		"Завтрак — важнейший приём пищи 🍳",
	},
	Evening: []string{
		"Не забудь оставить место для сна 🌙",
		"Вечерний приём пищи учтён 🌆",
	},
}

// Bucket maps a wall-clock time to its time-of-day bucket.
func Bucket(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h < 11:
		return Morning
	case h >= 18:
		return Evening
	default:
		return Midday
	}
}

// Select picks a phrase for the verdict and appends a time-of-day phrase
// for morning and evening. It panics on an empty pool.
func Select(rng *rand.Rand, pools Pools, special bool, bucket TimeOfDay) string {
	pool := pools.Ordinary
	if special {
		pool = pools.Special
	}
	phrase := pick(rng, pool)

	switch bucket {
	case Morning:
		phrase += " " + pick(rng, pools.Morning)
	case Evening:
		phrase += " " + pick(rng, pools.Evening)
	}
	return phrase
}

func pick(rng *rand.Rand, pool []string) string {
	if len(pool) == 0 {
		panic("comment: empty phrase pool")
	}
	return pool[rng.Intn(len(pool))]
}
