package service

import (
	"math/rand"
	"time"

	"github.com/labstack/gommon/random"
)

var timeNow = time.Now

const alphaNumBytes = random.Alphanumeric

const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomLetter() string {
	return string(letters[rand.Intn(len(letters))])
}
