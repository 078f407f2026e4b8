package repository

var Operation = operation
